package model

// Display holds the presentation attributes for a status.
type Display struct {
	Label string `json:"label"`
	Color string `json:"color"`
	Icon  string `json:"icon"`
}

var displays = map[Status]Display{
	StatusPending:   {Label: "Pendiente", Color: "yellow", Icon: "alert-circle"},
	StatusApproved:  {Label: "Aprobada", Color: "green", Icon: "check-circle"},
	StatusCompleted: {Label: "Completada", Color: "blue", Icon: "check-circle"},
	StatusCancelled: {Label: "Cancelada", Color: "red", Icon: "x-circle"},
}

// DisplayFor is total over Statuses; an unknown value renders as its raw
// name in grey.
func DisplayFor(s Status) Display {
	if d, ok := displays[s]; ok {
		return d
	}
	return Display{Label: string(s), Color: "gray", Icon: "help-circle"}
}
