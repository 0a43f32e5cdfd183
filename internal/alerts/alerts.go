// Package alerts derives operational warnings from the local store: SLA
// breaches, completed orders missing their checklist, and orders the
// technician is standing next to.
package alerts

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/xelth-com/fieldsync/internal/location"
	"github.com/xelth-com/fieldsync/internal/models"
)

// Severity of an alert
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityWarning:
		return 1
	default:
		return 2
	}
}

// Type of an alert
type Type string

const (
	TypeSLABreach        Type = "sla-breach"
	TypeSLAWarning       Type = "sla-warning"
	TypeChecklistPending Type = "checklist-pending"
	TypeProximity        Type = "proximity"
)

const (
	// SLAWarningWindow is how far ahead an approaching deadline is flagged
	SLAWarningWindow = 2 * time.Hour
	// ProximityRadius in meters
	ProximityRadius = 500.0
)

// Alert is derived on every computation and never stored. Its ID names the
// condition (type and entity), so the same condition always has the same ID.
type Alert struct {
	ID              string    `json:"id"`
	Type            Type      `json:"type"`
	Title           string    `json:"title"`
	Message         string    `json:"message"`
	Severity        Severity  `json:"severity"`
	RelatedEntityID string    `json:"related_entity_id"`
	CreatedAt       time.Time `json:"created_at"`
}

// AlertID returns the id of the alert of type t for entity id
func AlertID(t Type, entityID string) string {
	return string(t) + "-" + entityID
}

// Input is everything Compute looks at. Position is nil when unknown.
type Input struct {
	WorkOrders         []models.WorkOrder
	ChecklistResponses []models.ChecklistResponse
	Customers          []models.CustomerSnapshot
	Position           *location.Position
	Now                time.Time
}

// Compute returns the alerts for in, most severe first. Equal severities
// keep work order order. The result depends only on in.
func Compute(in Input) []Alert {
	answered := make(map[string]bool, len(in.ChecklistResponses))
	for _, r := range in.ChecklistResponses {
		answered[r.WorkOrderID] = true
	}
	customers := make(map[string]*models.CustomerSnapshot, len(in.Customers))
	for i := range in.Customers {
		customers[in.Customers[i].ID] = &in.Customers[i]
	}

	alerts := []Alert{}
	add := func(t Type, sev Severity, wo *models.WorkOrder, title, msg string) {
		alerts = append(alerts, Alert{
			ID:              AlertID(t, wo.ID),
			Type:            t,
			Title:           title,
			Message:         msg,
			Severity:        sev,
			RelatedEntityID: wo.ID,
			CreatedAt:       in.Now,
		})
	}

	for i := range in.WorkOrders {
		wo := &in.WorkOrders[i]
		open := !wo.Status.IsClosed()

		if open && wo.SLADueAt != nil {
			due := *wo.SLADueAt
			switch {
			case due.Before(in.Now):
				add(TypeSLABreach, SeverityCritical, wo, "SLA breached",
					fmt.Sprintf("Work order %s was due %s", label(wo), due.Format(time.RFC3339)))
			case due.Sub(in.Now) <= SLAWarningWindow:
				add(TypeSLAWarning, SeverityWarning, wo, "SLA due soon",
					fmt.Sprintf("Work order %s is due in %s", label(wo), due.Sub(in.Now).Round(time.Minute)))
			}
		}

		if wo.Status == models.WorkOrderStatusCompleted && !answered[wo.ID] {
			add(TypeChecklistPending, SeverityWarning, wo, "Checklist missing",
				fmt.Sprintf("Work order %s is completed without a checklist", label(wo)))
		}

		if open && in.Position != nil {
			lat, lon, ok := siteOf(wo, customers)
			if !ok {
				continue
			}
			d := roundMillimeters(location.Haversine(in.Position.Latitude, in.Position.Longitude, lat, lon))
			if d <= ProximityRadius {
				add(TypeProximity, SeverityInfo, wo, "Nearby job",
					fmt.Sprintf("Work order %s is %.0f m away", label(wo), d))
			}
		}
	}

	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].Severity.rank() < alerts[j].Severity.rank()
	})
	return alerts
}

// siteOf returns the order's coordinates, falling back to its customer's
func siteOf(wo *models.WorkOrder, customers map[string]*models.CustomerSnapshot) (float64, float64, bool) {
	if wo.Latitude != nil && wo.Longitude != nil {
		return *wo.Latitude, *wo.Longitude, true
	}
	if c, ok := customers[wo.CustomerID]; ok && c.Latitude != nil && c.Longitude != nil {
		return *c.Latitude, *c.Longitude, true
	}
	return 0, 0, false
}

func roundMillimeters(meters float64) float64 {
	return math.Round(meters*1000) / 1000
}

func label(wo *models.WorkOrder) string {
	if wo.Number != "" {
		return wo.Number
	}
	return "#" + wo.ID
}
