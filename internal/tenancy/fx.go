package tenancy

import (
	"github.com/smallbiznis/rentwise/internal/tenancy/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("tenancy.repository",
	fx.Provide(repository.Provide),
)
