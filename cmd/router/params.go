package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/elys-network/yield-router/internal/config"
	"github.com/elys-network/yield-router/internal/logger"
	"github.com/elys-network/yield-router/internal/state"
	"github.com/elys-network/yield-router/internal/types"
)

type parameterStore interface {
	LoadActive(ctx context.Context) (*types.StrategyParameters, int, error)
	SaveNextVersion(ctx context.Context, params types.StrategyParameters) (int, error)
}

type dbParameterStore struct{}

func (dbParameterStore) LoadActive(ctx context.Context) (*types.StrategyParameters, int, error) {
	return state.LoadActiveStrategyParameters(ctx, config.DefaultStrategyConfigName)
}

func (dbParameterStore) SaveNextVersion(ctx context.Context, params types.StrategyParameters) (int, error) {
	return saveAsNextVersion(ctx, params)
}

// activateParameters returns the active version when it already holds params and saves params
// as the next version otherwise, so restarting with an unchanged file does not add versions.
func activateParameters(ctx context.Context, params types.StrategyParameters, store parameterStore) (int, error) {
	active, version, err := store.LoadActive(ctx)
	switch {
	case err == nil:
		same, err := sameParameters(*active, params)
		if err != nil {
			return 0, err
		}
		if same {
			paramsLogger := logger.GetForComponent("main")
			paramsLogger.Info().Int("version", version).Msg("Strategy file matches active parameters, keeping version")
			return version, nil
		}
	case !errors.Is(err, state.ErrNoActiveParameters):
		return 0, fmt.Errorf("load strategy parameters: %w", err)
	}
	return store.SaveNextVersion(ctx, params)
}

// sameParameters compares the stored JSON form, which is what the database round-trips.
func sameParameters(a, b types.StrategyParameters) (bool, error) {
	left, err := json.Marshal(a)
	if err != nil {
		return false, fmt.Errorf("encode strategy parameters: %w", err)
	}
	right, err := json.Marshal(b)
	if err != nil {
		return false, fmt.Errorf("encode strategy parameters: %w", err)
	}
	return bytes.Equal(left, right), nil
}
