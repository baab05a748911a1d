// Package navigation maps scheduling front-end paths to the page that
// renders them.
package navigation

import (
	"net/url"
	"strings"
)

// Page identifies a screen of the scheduling front end.
type Page string

const (
	PageHome              Page = "home"
	PageSchedule          Page = "schedule"
	PageAppointments      Page = "appointments"
	PageAppointmentDetail Page = "appointment-detail"
	PagePatient           Page = "patient"
	PagePatientSchedule   Page = "patient-schedule"
	PageUpload            Page = "upload"
	PageSearch            Page = "search"
	PageResource          Page = "resource"
)

// Resource page tabs.
const (
	TabDetails = "details"
	TabEdit    = "edit"
	TabHistory = "history"
)

// Tabs lists the resource page tabs in display order.
var Tabs = []string{TabDetails, TabEdit, TabHistory}

// Route is a matched path.
type Route struct {
	Page   Page
	Params map[string]string
}

// Param returns a path parameter, or "".
func (r Route) Param(name string) string {
	return r.Params[name]
}

// Match resolves path (query and fragment are ignored) to a Route. Paths that
// match nothing land on the schedule, as the shell does.
func Match(path string) Route {
	segs := segments(path)

	switch {
	case len(segs) == 0:
		return Route{Page: PageHome}
	case segs[0] == "appointments" && len(segs) == 1:
		return route(PageAppointments, "tab", AppointmentsUpcoming)
	case segs[0] == "appointment" && len(segs) == 2:
		if IsAppointmentsTab(segs[1]) {
			return route(PageAppointments, "tab", segs[1])
		}
		return route(PageAppointmentDetail, "id", segs[1])
	case segs[0] == "schedule" && len(segs) <= 2:
		if len(segs) == 2 {
			return route(PageSchedule, "id", segs[1])
		}
		return Route{Page: PageSchedule}
	case segs[0] == "patient" && len(segs) == 4 && segs[2] == "schedule":
		return route(PagePatientSchedule, "patientId", segs[1], "scheduleId", segs[3])
	case segs[0] == "patient" && len(segs) == 2:
		return route(PagePatient, "id", segs[1])
	case segs[0] == "upload" && len(segs) <= 2:
		if len(segs) == 2 {
			return route(PageUpload, "dataType", segs[1])
		}
		return Route{Page: PageUpload}
	case len(segs) == 1:
		return route(PageSearch, "resourceType", segs[0])
	case len(segs) == 2:
		return route(PageResource, "resourceType", segs[0], "id", segs[1], "tab", TabDetails)
	case len(segs) == 3 && IsTab(segs[2]):
		return route(PageResource, "resourceType", segs[0], "id", segs[1], "tab", segs[2])
	}
	return Route{Page: PageSchedule}
}

// IsTab reports whether tab is a resource page tab.
func IsTab(tab string) bool {
	for _, t := range Tabs {
		if t == tab {
			return true
		}
	}
	return false
}

// ResourcePath returns "/{type}/{id}".
func ResourcePath(resourceType, id string) string {
	return "/" + url.PathEscape(resourceType) + "/" + url.PathEscape(id)
}

// TabPath returns "/{type}/{id}/{tab}". Unknown tabs fall back to details.
func TabPath(resourceType, id, tab string) string {
	if !IsTab(tab) {
		tab = TabDetails
	}
	return ResourcePath(resourceType, id) + "/" + tab
}

func segments(path string) []string {
	path, _, _ = strings.Cut(path, "#")
	path, _, _ = strings.Cut(path, "?")

	var out []string
	for _, s := range strings.Split(path, "/") {
		if s == "" {
			continue
		}
		if u, err := url.PathUnescape(s); err == nil {
			s = u
		}
		out = append(out, s)
	}
	return out
}

func route(page Page, kv ...string) Route {
	r := Route{Page: page, Params: make(map[string]string, len(kv)/2)}
	for i := 0; i+1 < len(kv); i += 2 {
		r.Params[kv[i]] = kv[i+1]
	}
	return r
}
