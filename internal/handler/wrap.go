package handler

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// wrap logs the node's start and finish and turns a panic into an error.
func wrap(logger *zap.Logger, name string, node Node) Node {
	return func(ctx context.Context, input json.RawMessage) (out any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("node panic", zap.String("node", name), zap.Any("panic", r))
				out, err = nil, fmt.Errorf("node %s panicked: %v", name, r)
			}
		}()

		logger.Debug("node start", zap.String("node", name))
		out, err = node(ctx, input)
		if err != nil {
			logger.Error("node error", zap.String("node", name), zap.Error(err))
			return out, err
		}
		logger.Debug("node done", zap.String("node", name))
		return out, nil
	}
}
