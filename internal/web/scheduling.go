package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/scheduling/internal/navigation"
	"github.com/ehr/scheduling/internal/platform/fhir"
)

// AppointmentLength is the length of a rescheduled appointment.
const AppointmentLength = 30 * time.Minute

// checkUp is the service type of appointments booked from a slot.
var checkUp = fhir.CodeableConcept{
	Coding: []fhir.Coding{{System: fhir.SNOMEDSystem, Code: "185345009", Display: "Encounter for check up"}},
}

// ScheduleResponse is the body of the schedule page once a schedule is known.
type ScheduleResponse struct {
	Page     navigation.Page `json:"page"`
	Actor    string          `json:"actor,omitempty"`
	Created  bool            `json:"created,omitempty"`
	Schedule json.RawMessage `json:"schedule"`
}

// Schedule shows a schedule. With an id it is read directly; with an actor
// query the actor's schedule is looked up and created when it does not exist
// yet. Without either, or without a FHIR server, the page is only routed.
func (h *Handler) Schedule(c echo.Context, route navigation.Route) error {
	ctx := c.Request().Context()
	actor := navigation.ActorReference(c.QueryParam("actor"))
	id := route.Param("id")
	if h.fhir == nil || (id == "" && actor == "") {
		return c.JSON(http.StatusOK, PageResponse{Page: route.Page, Params: route.Params})
	}

	if id != "" {
		res, err := h.fhir.Read(ctx, "Schedule", id)
		if err != nil {
			return upstreamError(c, err)
		}
		return c.JSON(http.StatusOK, ScheduleResponse{Page: route.Page, Schedule: res})
	}

	res, created, err := h.findOrCreateSchedule(ctx, actor)
	if err != nil {
		return upstreamError(c, err)
	}
	return c.JSON(http.StatusOK, ScheduleResponse{Page: route.Page, Actor: actor, Created: created, Schedule: res})
}

func (h *Handler) findOrCreateSchedule(ctx context.Context, actor string) (json.RawMessage, bool, error) {
	res, ok, err := h.fhir.SearchOne(ctx, navigation.ScheduleSearch(actor))
	if err != nil {
		return nil, false, err
	}
	if ok {
		return res, false, nil
	}

	active := true
	res, err = h.fhir.Create(ctx, "Schedule", fhir.Schedule{
		ResourceType: "Schedule",
		Active:       &active,
		Actor:        []fhir.Reference{{Reference: actor}},
	})
	if err != nil {
		return nil, false, err
	}
	zerolog.Ctx(ctx).Info().Str("actor", actor).Msg("created schedule")
	return res, true, nil
}

// BookAppointmentRequest is the body of POST /api/v1/appointments. Slot and
// patient may be bare ids or references; a bare actor id is a Practitioner.
type BookAppointmentRequest struct {
	Slot    string `json:"slot"`
	Patient string `json:"patient"`
	Actor   string `json:"actor"`
}

// BookAppointment books a free slot for a patient with the actor and points
// the client at the new appointment.
func (h *Handler) BookAppointment(c echo.Context) error {
	if h.fhir == nil {
		return noFHIR(c)
	}

	var req BookAppointmentRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeInvalid, err.Error()))
	}
	if req.Slot == "" || req.Patient == "" || req.Actor == "" {
		return c.JSON(http.StatusBadRequest, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeInvalid, "slot, patient and actor are required"))
	}

	ctx := c.Request().Context()
	slotID := strings.TrimPrefix(req.Slot, "Slot/")
	raw, err := h.fhir.Read(ctx, "Slot", slotID)
	if err != nil {
		return upstreamError(c, err)
	}
	var slot fhir.Slot
	if err := json.Unmarshal(raw, &slot); err != nil {
		return upstreamError(c, err)
	}
	if slot.Status != "" && slot.Status != fhir.SlotStatusFree {
		return c.JSON(http.StatusConflict, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeConflict,
			fhir.ReferenceString("Slot", slotID)+" is "+slot.Status))
	}

	patient := req.Patient
	if !strings.Contains(patient, "/") {
		patient = fhir.ReferenceString("Patient", patient)
	}
	created, err := h.fhir.Create(ctx, "Appointment", fhir.Appointment{
		ResourceType: "Appointment",
		Status:       fhir.AppointmentStatusBooked,
		ServiceType:  []fhir.CodeableConcept{checkUp},
		Start:        slot.Start,
		End:          slot.End,
		Slot:         []fhir.Reference{{Reference: fhir.ReferenceString("Slot", slotID)}},
		Participant: []fhir.AppointmentParticipant{
			{Actor: &fhir.Reference{Reference: patient}, Status: fhir.ParticipationStatusAccepted},
			{Actor: &fhir.Reference{Reference: navigation.ActorReference(req.Actor)}, Status: fhir.ParticipationStatusAccepted},
		},
	})
	if err != nil {
		return upstreamError(c, err)
	}

	var res fhir.Resource
	if err := json.Unmarshal(created, &res); err != nil || res.ID == "" {
		return upstreamError(c, errors.New("FHIR server returned an appointment without an id"))
	}

	c.Response().Header().Set("Location", navigation.ResourcePath("Appointment", res.ID))
	return c.JSON(http.StatusCreated, ResourceResponse{
		Page:         navigation.PageResource,
		ResourceType: "Appointment",
		ID:           res.ID,
		Tab:          navigation.TabDetails,
		Tabs:         navigation.Tabs,
		Resource:     created,
	})
}

// RescheduleRequest is the body of POST /api/v1/appointments/:id/reschedule.
type RescheduleRequest struct {
	Start string `json:"start"`
}

// RescheduleAppointment moves an appointment to a new start, keeping the
// rest of the resource as the server has it.
func (h *Handler) RescheduleAppointment(c echo.Context) error {
	if h.fhir == nil {
		return noFHIR(c)
	}

	var req RescheduleRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeInvalid, err.Error()))
	}
	start, err := time.Parse(time.RFC3339, req.Start)
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeInvalid, "start must be an RFC 3339 instant"))
	}

	ctx := c.Request().Context()
	id := c.Param("id")
	raw, err := h.fhir.Read(ctx, "Appointment", id)
	if err != nil {
		return upstreamError(c, err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return upstreamError(c, err)
	}
	start = start.UTC()
	doc["start"] = start.Format(time.RFC3339)
	doc["end"] = start.Add(AppointmentLength).Format(time.RFC3339)

	updated, err := h.fhir.Update(ctx, "Appointment", id, doc)
	if err != nil {
		return upstreamError(c, err)
	}

	c.Response().Header().Set("Location", navigation.ResourcePath("Appointment", id))
	return c.JSON(http.StatusOK, ResourceResponse{
		Page:         navigation.PageResource,
		ResourceType: "Appointment",
		ID:           id,
		Tab:          navigation.TabDetails,
		Tabs:         navigation.Tabs,
		Resource:     updated,
	})
}

// DeleteSlot removes a slot and points the client back at the schedule.
func (h *Handler) DeleteSlot(c echo.Context) error {
	if h.fhir == nil {
		return noFHIR(c)
	}
	if err := h.fhir.Delete(c.Request().Context(), "Slot", c.Param("id")); err != nil {
		return upstreamError(c, err)
	}
	c.Response().Header().Set("Location", navigation.SchedulePath)
	return c.NoContent(http.StatusNoContent)
}

func noFHIR(c echo.Context) error {
	return c.JSON(http.StatusServiceUnavailable, fhir.ErrorOutcome("no FHIR server configured"))
}
