package lifecycle

import (
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Edge struct {
	From Status
	To   Status
}

func (e Edge) String() string {
	return fmt.Sprintf("%s → %s", e.From, e.To)
}

var kitchenEdges = []Edge{
	{StatusOrderReceived, StatusInProgress},
	{StatusInProgress, StatusOrderReady},
	{StatusOrderReceived, StatusCancelled},
	{StatusInProgress, StatusCancelled},
}

// transitions is keyed by role; PENDING_PAYMENT is only ever left through
// payment confirmation and DELIVERED/CANCELLED have no outgoing edges.
var transitions = map[Role][]Edge{
	RoleKitchen: kitchenEdges,
	RoleAdmin:   kitchenEdges,
	RoleServer: {
		{StatusOrderReady, StatusPickedUpByDriver},
		{StatusPickedUpByDriver, StatusDelivered},
	},
	RoleDriver: {
		{StatusOrderReady, StatusPickedUpByDriver},
		{StatusPickedUpByDriver, StatusOnTheWay},
		{StatusOnTheWay, StatusDelivered},
	},
	RoleCashier: nil,
}

// EdgesFor returns a copy of the role's edges in table order.
func EdgesFor(role Role) []Edge {
	edges := transitions[role]
	out := make([]Edge, len(edges))
	copy(out, edges)
	return out
}

// Next lists the statuses the role may move an order to from the given status.
func Next(role Role, from Status) []Status {
	var out []Status
	for _, e := range transitions[role] {
		if e.From == from {
			out = append(out, e.To)
		}
	}
	return out
}

// Check validates a single status write. Unknown roles and targets the role
// can never reach are PermissionDenied; a reachable target from the wrong
// current status is FailedPrecondition.
func Check(role Role, from, to Status) error {
	edges, known := transitions[role]
	if !known {
		return status.Errorf(codes.PermissionDenied, "unknown role %q", role)
	}
	if len(edges) == 0 {
		return status.Errorf(codes.PermissionDenied, "%s may not change order status", role.plural())
	}

	reachable := false
	for _, e := range edges {
		if e.To != to {
			continue
		}
		reachable = true
		if e.From == from {
			return nil
		}
	}

	if !reachable {
		return status.Errorf(codes.PermissionDenied, "%s may only transition %s", role.plural(), describe(edges))
	}
	return status.Errorf(codes.FailedPrecondition,
		"order is %s; %s may only move an order to %s from %s",
		from, role.plural(), to, strings.Join(sources(edges, to), " or "))
}

func describe(edges []Edge) string {
	parts := make([]string, len(edges))
	for i, e := range edges {
		parts[i] = e.String()
	}
	return strings.Join(parts, ", ")
}

func sources(edges []Edge, to Status) []string {
	var out []string
	for _, e := range edges {
		if e.To == to {
			out = append(out, string(e.From))
		}
	}
	return out
}

type Action struct {
	To    Status `json:"to"`
	Label string `json:"label"`
}

// Actions lists the buttons a role sees for an order in the given state.
func Actions(role Role, from Status, method PaymentMethod) []Action {
	next := Next(role, from)
	actions := make([]Action, 0, len(next))
	for _, to := range next {
		actions = append(actions, Action{To: to, Label: Label(role, from, to, method)})
	}
	return actions
}

func Label(role Role, from, to Status, method PaymentMethod) string {
	switch {
	case to == StatusCancelled:
		return "Cancel order"
	case role == RoleServer && to == StatusPickedUpByDriver:
		return "Pick up & en route"
	case role == RoleServer && to == StatusDelivered && method == PaymentCash:
		return "Collect cash & complete"
	case to == StatusDelivered:
		return "Mark delivered"
	case role == RoleDriver && to == StatusPickedUpByDriver:
		return "Claim & pick up"
	case to == StatusOnTheWay:
		return "On the way"
	case to == StatusInProgress:
		return "Start preparing"
	case to == StatusOrderReady:
		return "Mark ready"
	}
	return fmt.Sprintf("%s → %s", from, to)
}
