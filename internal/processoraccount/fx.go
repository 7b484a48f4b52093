package processoraccount

import (
	"github.com/smallbiznis/rentwise/internal/processoraccount/repository"
	"github.com/smallbiznis/rentwise/internal/processoraccount/service"
	"go.uber.org/fx"
)

var Module = fx.Module("processoraccount.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
