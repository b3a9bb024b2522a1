package queue

import (
	"storyloom/pkg/schema"
)

type Queue interface {
	Start()
	Stop()
	Add(payload *schema.Payload) (*Run, error)
	Get(id string) (*Run, bool)
	Cancel(id string) bool
}
