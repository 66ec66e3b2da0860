package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock abstracts time.Now so services and the sweeper can be tested
// against a fake.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

func NewClock() Clock { return realClock{} }

// Module provides the real UTC clock.
var Module = fx.Module("clock",
	fx.Provide(NewClock),
)
