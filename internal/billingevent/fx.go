package billingevent

import "go.uber.org/fx"

var Module = fx.Module("billingevent",
	fx.Provide(NewRecorder),
)
