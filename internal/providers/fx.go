package providers

import (
	"github.com/smallbiznis/rentwise/internal/providers/email"
	"github.com/smallbiznis/rentwise/internal/providers/pdf"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
	pdf.Module,
)
