package rentdue

import (
	"github.com/smallbiznis/rentwise/internal/rentdue/service"
	"go.uber.org/fx"
)

var Module = fx.Module("rentdue.service",
	fx.Provide(service.New),
)
