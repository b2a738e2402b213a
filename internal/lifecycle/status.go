// Package lifecycle holds the order status vocabulary and the role-gated
// transition table every status write is checked against.
package lifecycle

import "strings"

type Status string

const (
	StatusPendingPayment   Status = "PENDING_PAYMENT"
	StatusOrderReceived    Status = "ORDER_RECEIVED"
	StatusInProgress       Status = "IN_PROGRESS"
	StatusOrderReady       Status = "ORDER_READY"
	StatusPickedUpByDriver Status = "PICKED_UP_BY_DRIVER"
	StatusOnTheWay         Status = "ON_THE_WAY"
	StatusDelivered        Status = "DELIVERED"
	StatusCancelled        Status = "CANCELLED"
)

var AllStatuses = []Status{
	StatusPendingPayment,
	StatusOrderReceived,
	StatusInProgress,
	StatusOrderReady,
	StatusPickedUpByDriver,
	StatusOnTheWay,
	StatusDelivered,
	StatusCancelled,
}

func ParseStatus(raw string) (Status, bool) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	for _, known := range AllStatuses {
		if s == known {
			return s, true
		}
	}
	return "", false
}

// Terminal reports whether no further status or assignment change is possible.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

type Role string

const (
	RoleKitchen Role = "KITCHEN"
	RoleAdmin   Role = "ADMIN"
	RoleServer  Role = "SERVER"
	RoleDriver  Role = "DRIVER"
	RoleCashier Role = "CASHIER"
)

var AllRoles = []Role{RoleKitchen, RoleAdmin, RoleServer, RoleDriver, RoleCashier}

func ParseRole(raw string) (Role, bool) {
	r := Role(strings.ToUpper(strings.TrimSpace(raw)))
	for _, known := range AllRoles {
		if r == known {
			return r, true
		}
	}
	return "", false
}

func (r Role) plural() string {
	switch r {
	case RoleKitchen:
		return "Kitchen staff"
	case RoleAdmin:
		return "Admins"
	case RoleServer:
		return "Servers"
	case RoleDriver:
		return "Drivers"
	case RoleCashier:
		return "Cashiers"
	}
	return string(r)
}

// ManagesAssignments reports whether the role may set or clear an order's driver.
func (r Role) ManagesAssignments() bool {
	return r == RoleAdmin || r == RoleKitchen
}

// Settles reports whether the role may settle cash collections.
func (r Role) Settles() bool {
	return r == RoleCashier || r == RoleAdmin
}

type PaymentMethod string

const (
	PaymentCard PaymentMethod = "CARD"
	PaymentCash PaymentMethod = "CASH"
)

type DeliveryType string

const (
	DeliveryClubhousePickup  DeliveryType = "CLUBHOUSE_PICKUP"
	DeliveryOnCourse         DeliveryType = "ON_COURSE"
	DeliveryEventPavilion    DeliveryType = "EVENT_PAVILION"
	DeliveryStandardDelivery DeliveryType = "STANDARD_DELIVERY"
)

// Actor is the authenticated user behind a request.
type Actor struct {
	UserID string
	Role   Role
}

func (a Actor) Authenticated() bool {
	return a.UserID != "" && a.Role != ""
}
