package navigation

import (
	"fmt"
	"strings"
	"time"

	"github.com/ehr/scheduling/internal/platform/fhir"
	"github.com/ehr/scheduling/internal/searchspec"
)

// Appointment list tabs.
const (
	AppointmentsUpcoming = "upcoming"
	AppointmentsPast     = "past"
)

// SchedulePath is the schedule page.
const SchedulePath = "/schedule"

// AppointmentsFields are the columns of the appointment lists.
var AppointmentsFields = []string{"patient", "start", "end", "status", "appointmentType", "serviceType"}

// IsAppointmentsTab reports whether tab is upcoming or past.
func IsAppointmentsTab(tab string) bool {
	return tab == AppointmentsUpcoming || tab == AppointmentsPast
}

// AppointmentsPath returns the path of an appointment list tab. Unknown tabs
// go to upcoming.
func AppointmentsPath(tab string) string {
	if !IsAppointmentsTab(tab) {
		tab = AppointmentsUpcoming
	}
	return "/appointment/" + tab
}

// ActorReference returns actor as a relative reference. A bare id is taken
// as a Practitioner.
func ActorReference(actor string) string {
	if actor == "" || strings.Contains(actor, "/") {
		return actor
	}
	return fhir.ReferenceString("Practitioner", actor)
}

// ScheduleSearch finds the schedule whose actor is actor.
func ScheduleSearch(actor string) searchspec.Spec {
	return searchspec.Spec{
		ResourceType: "Schedule",
		Filters:      searchspec.FilterList(searchspec.Filter{Code: "actor", Value: ActorReference(actor)}),
	}
}

// AppointmentsSearch builds the search behind an appointment list: the
// actor's appointments starting after now (upcoming) or ending before it
// (past), by date. A bare actor id is taken as a Practitioner.
func AppointmentsSearch(tab, actor string, now time.Time) (searchspec.Spec, error) {
	if !IsAppointmentsTab(tab) {
		return searchspec.Spec{}, fmt.Errorf("unknown appointments tab %q", tab)
	}

	when := searchspec.Filter{Code: "date", Operator: searchspec.StartsAfter, Value: now.UTC().Format(time.RFC3339)}
	if tab == AppointmentsPast {
		when.Operator = searchspec.EndsBefore
	}

	filters := make([]searchspec.Filter, 0, 2)
	if actor != "" {
		filters = append(filters, searchspec.Filter{Code: "actor", Operator: searchspec.Equals, Value: ActorReference(actor)})
	}
	filters = append(filters, when)

	return searchspec.Spec{
		ResourceType: "Appointment",
		Fields:       append([]string(nil), AppointmentsFields...),
		Filters:      searchspec.FilterList(filters...),
		SortRules:    []searchspec.SortRule{{Code: "date"}},
	}, nil
}
