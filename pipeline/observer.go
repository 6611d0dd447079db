package pipeline

import "github.com/mklimuk/sensorpipe"

// Observer is notified of every pipeline outcome. Calls happen on the
// scheduler goroutine, inside the tick.
type Observer interface {
	Sampled(pipeline string, r sensorpipe.Reading)
	SourceFailed(pipeline string, err error)
	Published(pipeline, path string, r sensorpipe.Reading)
	SinkFailed(pipeline, path string, err error)
}

// Observers fans out to several observers in order.
type Observers []Observer

func (o Observers) Sampled(pipeline string, r sensorpipe.Reading) {
	for _, obs := range o {
		obs.Sampled(pipeline, r)
	}
}

func (o Observers) SourceFailed(pipeline string, err error) {
	for _, obs := range o {
		obs.SourceFailed(pipeline, err)
	}
}

func (o Observers) Published(pipeline, path string, r sensorpipe.Reading) {
	for _, obs := range o {
		obs.Published(pipeline, path, r)
	}
}

func (o Observers) SinkFailed(pipeline, path string, err error) {
	for _, obs := range o {
		obs.SinkFailed(pipeline, path, err)
	}
}
