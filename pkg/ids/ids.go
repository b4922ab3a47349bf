// Package ids issues the correlation ids that tag every reply to a client message.
package ids

import "github.com/google/uuid"

// Issuer hands out correlation ids. Ids are time-ordered UUIDv7 strings, so
// they never repeat within a process and sort in issue order.
type Issuer struct{}

func NewIssuer() *Issuer { return &Issuer{} }

// Next returns a fresh correlation id.
func (i *Issuer) Next() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
