package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Role names used in the entitas and company email directories. Only
// non-empty entries on a record are fanned out to.
const (
	RoleHead      = "head"
	RoleMarketing = "marketing"
	RoleFinance   = "finance"
	RoleAdmin     = "admin"
	RoleWarehouse = "warehouse"
	RoleOthers    = "others"
)

// EntitasRoles and CompanyRoles fix the fan-out iteration order.
var (
	EntitasRoles = []string{RoleHead, RoleFinance, RoleAdmin, RoleOthers}
	CompanyRoles = []string{RoleHead, RoleMarketing, RoleFinance, RoleAdmin, RoleWarehouse, RoleOthers}
)

// RoleEmails maps a role name to the address configured for it.
type RoleEmails map[string]string

func (e RoleEmails) Value() (driver.Value, error) {
	if e == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(e)
}

func (e *RoleEmails) Scan(src interface{}) error {
	if src == nil {
		*e = RoleEmails{}
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported emails source type %T", src)
	}
	if len(raw) == 0 {
		*e = RoleEmails{}
		return nil
	}
	return json.Unmarshal(raw, e)
}

// Entitas is the organizational entity a borrower belongs to.
type Entitas struct {
	Code   string     `json:"code" db:"code"`
	Name   string     `json:"name" db:"name"`
	Emails RoleEmails `json:"emails" db:"emails"`
}

// Company is one of the companies involved in a loan.
type Company struct {
	Code   string     `json:"code" db:"code"`
	Name   string     `json:"name" db:"name"`
	Emails RoleEmails `json:"emails" db:"emails"`
}
