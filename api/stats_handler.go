package api

import (
	"fmt"
	"net/http"

	"github.com/xraph/forge"
)

func (a *API) stats(ctx forge.Context) error {
	stats, err := a.mgr.Stats(ctx.Context())
	if err != nil {
		return forge.InternalError(fmt.Errorf("scheduler stats: %w", err))
	}

	return ctx.JSON(http.StatusOK, stats)
}
