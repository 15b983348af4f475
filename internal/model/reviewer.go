// Package model defines the records that flow through the reviewer pipeline.
package model

import "strings"

// Reviewer is a mandatory reviewer entry. Raw entries carry only PaperID and
// RawName; the remaining fields are filled in by extraction.
type Reviewer struct {
	PaperID     int    `csv:"paper_id" json:"paper_id"`
	RawName     string `csv:"raw_name" json:"raw_name"`
	FirstName   string `csv:"first_name" json:"first_name"`
	LastName    string `csv:"last_name" json:"last_name"`
	Institution string `csv:"institution" json:"institution"`
	Email       string `csv:"email" json:"email"`
}

// HasEmail reports whether extraction produced an email address. It is the
// only criterion for a successful extraction.
func (r Reviewer) HasEmail() bool {
	return strings.TrimSpace(r.Email) != ""
}

// Raw returns a copy holding only the source fields.
func (r Reviewer) Raw() Reviewer {
	return Reviewer{PaperID: r.PaperID, RawName: r.RawName}
}
