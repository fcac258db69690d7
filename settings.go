package surveytune

import (
	"encoding/json"
	"strings"

	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
)

// ApplySettings parses a ";"-separated list of "param=value" settings and
// sets them as context hyperparameters, e.g.
// "learning_rate=1e-4;linear_schedule_warmup_steps=100".
//
// Each parameter must already exist in the root context with a default
// value, which also decides the type the string is parsed to. A scoped path
// like "/model/dropout_rate=0.1" sets the parameter in that scope, as long
// as the root context defines the same parameter name.
func ApplySettings(ctx *context.Context, settings string) error {
	for _, setting := range strings.Split(settings, ";") {
		if setting == "" {
			continue
		}
		if err := applySetting(ctx, setting); err != nil {
			return err
		}
	}
	return nil
}

func applySetting(ctx *context.Context, setting string) error {
	paramPath, valueStr, found := strings.Cut(setting, "=")
	if !found {
		return errors.Errorf("invalid setting %q: expected \"param=value\"", setting)
	}
	paramScope, paramName := context.SplitScope(paramPath)
	if strings.Contains(paramName, context.ScopeSeparator) {
		return errors.Errorf("invalid setting %q: a scoped parameter path must be absolute (start with %q)",
			paramPath, context.ScopeSeparator)
	}
	defaultValue, found := ctx.GetParam(paramName)
	if !found {
		return errors.Errorf("unknown parameter %q: it has no default in the root context", paramName)
	}

	value, err := parseSettingValue(defaultValue, valueStr)
	if err != nil {
		return errors.WithMessagef(err, "failed to parse value %q for parameter %q (default is %#v)",
			valueStr, paramPath, defaultValue)
	}
	ctxInScope := ctx
	if paramScope != "" {
		ctxInScope = ctx.InAbsPath(paramScope)
	}
	ctxInScope.SetParam(paramName, value)
	return nil
}

// parseSettingValue converts valueStr to the type of defaultValue. Only the
// types used by this driver's hyperparameters are supported.
func parseSettingValue(defaultValue any, valueStr string) (any, error) {
	var err error
	switch v := defaultValue.(type) {
	case int:
		err = json.Unmarshal([]byte(strings.ReplaceAll(valueStr, "_", "")), &v)
		return v, err
	case int64:
		err = json.Unmarshal([]byte(strings.ReplaceAll(valueStr, "_", "")), &v)
		return v, err
	case float32:
		err = json.Unmarshal([]byte(valueStr), &v)
		return v, err
	case float64:
		err = json.Unmarshal([]byte(valueStr), &v)
		return v, err
	case bool:
		err = json.Unmarshal([]byte(valueStr), &v)
		return v, err
	case string:
		return valueStr, nil
	}
	return nil, errors.Errorf("unsupported parameter type %T", defaultValue)
}
