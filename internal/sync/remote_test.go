package sync

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code int
		want ErrorKind
	}{
		{200, ""},
		{201, ""},
		{204, ""},
		{304, KindTransient},
		{400, KindPermanent},
		{401, KindPermanent},
		{404, KindPermanent},
		{408, KindTransient},
		{409, KindPermanent},
		{422, KindPermanent},
		{425, KindTransient},
		{429, KindTransient},
		{500, KindTransient},
		{503, KindTransient},
	}
	for _, tt := range tests {
		if got := ClassifyStatus(tt.code); got != tt.want {
			t.Errorf("ClassifyStatus(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestHTTPRemoteErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/gone":
			http.Error(w, "no such thing", http.StatusNotFound)
		case "/busy":
			http.Error(w, "try later", http.StatusTooManyRequests)
		default:
			w.Write([]byte(`{"ok":true}`))
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	remote := NewHTTPRemote(srv.URL+"/", nil, time.Second)
	assert.Equal(t, srv.URL, remote.BaseURL())

	body, err := remote.Fetch(ctx, "/fine")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))

	_, err = remote.Do(ctx, Request{Method: http.MethodPost, Path: "/gone"})
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	var re *RemoteError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, http.StatusNotFound, re.StatusCode)
	assert.Equal(t, "no such thing", re.Body)

	_, err = remote.Fetch(ctx, "/busy")
	assert.True(t, IsTransient(err))
	assert.False(t, IsPermanent(err))

	srv.Close()
	_, err = remote.Fetch(ctx, "/fine")
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestIsTransientUnknownError(t *testing.T) {
	assert.True(t, IsTransient(errors.New("something odd")))
	assert.False(t, IsTransient(nil))
	assert.False(t, IsPermanent(errors.New("something odd")))
}

func TestCreatedID(t *testing.T) {
	assert.Equal(t, "101", createdID([]byte(`{"id":101}`)))
	assert.Equal(t, "abc", createdID([]byte(`{"id":"abc"}`)))
	assert.Equal(t, "7", createdID([]byte(`{"data":{"id":7,"name":"x"}}`)))
	assert.Empty(t, createdID([]byte(`{"ok":true}`)))
	assert.Empty(t, createdID([]byte(``)))
	assert.Empty(t, createdID([]byte(`[1,2]`)))
}

func TestDecodeSnapshot(t *testing.T) {
	for _, in := range []string{`[{"id":1},{"id":2}]`, `{"data":[{"id":1},{"id":2}]}`, `{"items":[{"id":1},{"id":2}]}`} {
		items, err := decodeSnapshot([]byte(in))
		require.NoError(t, err, in)
		assert.Len(t, items, 2, in)
	}

	items, err := decodeSnapshot([]byte("  "))
	require.NoError(t, err)
	assert.Empty(t, items)

	_, err = decodeSnapshot([]byte(`"nope"`))
	assert.Error(t, err)
}
