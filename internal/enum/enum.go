package enum

// ── Line placement (CHECK constrained in DB) ──

const (
	PlacementActive     = "active"
	PlacementSuperseded = "superseded"
)

// ── User roles (CHECK constrained in DB) ──

const (
	UserRoleReceiver   = "RECEIVER"
	UserRoleSupervisor = "SUPERVISOR"
)

// ── Live update event types (no DB constraint) ──

const (
	EventLineReceived = "line.received"
	EventLineAdded    = "line.added"
	EventLineUpdated  = "line.updated"
)

// OtherPlacement returns the view a line is mirrored into once it has a receipt.
func OtherPlacement(p string) string {
	if p == PlacementSuperseded {
		return PlacementActive
	}
	return PlacementSuperseded
}
