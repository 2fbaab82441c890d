package mypublisher

import (
	"context"

	"github.com/MarcGrol/settlebackend/lib/myevents"
)

//go:generate mockgen -source=api.go -package mypublisher -destination publisher_mock.go Publisher
type Publisher interface {
	CreateTopic(c context.Context, topic string) error
	Publish(c context.Context, topic string, env myevents.Event) error
}
