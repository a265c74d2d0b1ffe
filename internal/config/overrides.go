package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// applyEnvOverrides maps the recognized BINANCE_*/operational environment
// variables onto the loaded config. API credentials are deliberately not part
// of the Config struct; callers read them from the environment directly so
// they never end up serialized.
func applyEnvOverrides(cfg *Config) error {
	if env, ok := envString("BINANCE_ENV"); ok {
		cfg.REST.Env = strings.ToLower(env)
	}
	if v, ok, err := envBool("DRY_RUN"); err != nil {
		return err
	} else if ok {
		cfg.Monitor.DryRun = v
	}
	if v, ok, err := envFloat("MAX_LEVERAGE"); err != nil {
		return err
	} else if ok {
		cfg.Risk.MaxLeverage = v
	}
	if v, ok, err := envFloat("MIN_ORDER_SIZE_USDT"); err != nil {
		return err
	} else if ok {
		cfg.Hedge.MinOrderUSD = v
	}
	if v, ok, err := envFloat("MAX_ORDER_SIZE_USDT"); err != nil {
		return err
	} else if ok {
		cfg.Hedge.MaxOrderUSD = v
	}
	if v, ok, err := envInt("RECV_WINDOW"); err != nil {
		return err
	} else if ok {
		cfg.REST.RecvWindowMS = v
	}
	if v, ok, err := envInt("TIMESTAMP_OFFSET"); err != nil {
		return err
	} else if ok {
		cfg.REST.TimestampOffsetMS = v
	}
	return nil
}

func envString(key string) (string, bool) {
	val, ok := os.LookupEnv(key)
	val = strings.TrimSpace(val)
	return val, ok && val != ""
}

func envBool(key string) (bool, bool, error) {
	val, ok := envString(key)
	if !ok {
		return false, false, nil
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return false, false, fmt.Errorf("%s must be a boolean, got %q", key, val)
	}
	return parsed, true, nil
}

func envFloat(key string) (float64, bool, error) {
	val, ok := envString(key)
	if !ok {
		return 0, false, nil
	}
	parsed, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%s must be a number, got %q", key, val)
	}
	return parsed, true, nil
}

func envInt(key string) (int64, bool, error) {
	val, ok := envString(key)
	if !ok {
		return 0, false, nil
	}
	parsed, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%s must be an integer, got %q", key, val)
	}
	return parsed, true, nil
}
