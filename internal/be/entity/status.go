package entity

// Status workflow status of Item and Reservation rows (column situacao).
type Status int

const (
	StatusPending          Status = 1 // quoted, waiting for release
	StatusLiberated        Status = 2 // released (Item) / shipped (Reservation)
	StatusInvoiceRequested Status = 3
	StatusInvoiceEmitted   Status = 4
)

// RequestStatus status of an InvoiceRequest.
type RequestStatus int

const (
	RequestStatusOpen   RequestStatus = 1
	RequestStatusClosed RequestStatus = 2
)

// ValidStatusTransitions is the only place where workflow moves are defined.
// Remaining in the same state is listed explicitly where saves may repeat it.
var ValidStatusTransitions = map[Status][]Status{
	StatusPending:          {StatusPending, StatusLiberated},
	StatusLiberated:        {StatusPending, StatusLiberated, StatusInvoiceRequested},
	StatusInvoiceRequested: {StatusLiberated, StatusInvoiceEmitted},
	StatusInvoiceEmitted:   {},
}

// CanTransitionTo reports whether moving from s to next is allowed.
// Statuses outside the table (legacy values written by Datasul) may only move to Pending or Liberated.
func (s Status) CanTransitionTo(next Status) bool {
	targets, ok := ValidStatusTransitions[s]
	if !ok {
		return next.IsUserSettable()
	}
	for _, t := range targets {
		if t == next {
			return true
		}
	}
	return false
}

// IsKnown reports whether s is part of the workflow table.
func (s Status) IsKnown() bool {
	_, ok := ValidStatusTransitions[s]
	return ok
}

// IsUserSettable reports whether a user may set the status directly on a quotation or expedition save.
func (s Status) IsUserSettable() bool {
	return s == StatusPending || s == StatusLiberated
}

// Ptr returns a pointer to a copy of s.
func (s Status) Ptr() *Status {
	return &s
}

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusLiberated:
		return "liberated"
	case StatusInvoiceRequested:
		return "invoice_requested"
	case StatusInvoiceEmitted:
		return "invoice_emitted"
	}
	return "unknown"
}

// DatasulStatusText labels for the status codes reported by Datasul (reporting only).
var DatasulStatusText = map[int]string{
	1: "Pendente",
	2: "Liberado",
	3: "Expedido",
	4: "NF Solicitada",
	5: "NF Emitida",
	6: "Em Andamento",
	7: "Concluída Parcial",
	8: "Concluída Total",
}

// DatasulStatusLabel returns the label for a Datasul status code.
func DatasulStatusLabel(code int) string {
	if text, ok := DatasulStatusText[code]; ok {
		return text
	}
	return "Desconhecido"
}
