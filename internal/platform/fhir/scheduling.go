package fhir

type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// Schedule is the subset of a FHIR R4 Schedule the scheduler reads and
// writes.
type Schedule struct {
	ResourceType string      `json:"resourceType"`
	ID           string      `json:"id,omitempty"`
	Active       *bool       `json:"active,omitempty"`
	Actor        []Reference `json:"actor"`
}

// Slot is a bookable interval on a Schedule. Start and End are FHIR
// instants.
type Slot struct {
	ResourceType string    `json:"resourceType"`
	ID           string    `json:"id,omitempty"`
	Schedule     Reference `json:"schedule"`
	Status       string    `json:"status"`
	Start        string    `json:"start"`
	End          string    `json:"end"`
}

type AppointmentParticipant struct {
	Actor  *Reference `json:"actor,omitempty"`
	Status string     `json:"status"`
}

type Appointment struct {
	ResourceType string                   `json:"resourceType"`
	ID           string                   `json:"id,omitempty"`
	Status       string                   `json:"status"`
	ServiceType  []CodeableConcept        `json:"serviceType,omitempty"`
	Start        string                   `json:"start,omitempty"`
	End          string                   `json:"end,omitempty"`
	Slot         []Reference              `json:"slot,omitempty"`
	Participant  []AppointmentParticipant `json:"participant"`
}

// Status codes used when booking.
const (
	AppointmentStatusBooked     = "booked"
	ParticipationStatusAccepted = "accepted"
	SlotStatusFree              = "free"
)

// SNOMEDSystem is the SNOMED CT code system URI.
const SNOMEDSystem = "http://snomed.info/sct"
