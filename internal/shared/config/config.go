package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"freenode_sieve/internal/shared/types"

	"gopkg.in/ini.v1"
)

// LoadIni 将 ini 配置文件覆盖到 cfg 上，随后应用环境变量覆盖。
// 文件不存在时返回的错误满足 errors.Is(err, os.ErrNotExist)，cfg 仍会应用环境变量。
func LoadIni(cfg *types.Config, fileName string) error {
	if _, err := os.Stat(fileName); err != nil {
		applyEnv(cfg)
		return fmt.Errorf("config file %s: %w", fileName, err)
	}

	iniFile, err := ini.Load(fileName)
	if err != nil {
		return err
	}
	if err := iniFile.MapTo(cfg); err != nil {
		return err
	}

	if sec, err := iniFile.GetSection("targets"); err == nil && len(sec.Keys()) > 0 {
		targets := make([]types.Target, 0, len(sec.Keys()))
		for _, k := range sec.Keys() {
			url := strings.TrimSpace(k.String())
			if url == "" {
				continue
			}
			targets = append(targets, types.Target{Name: k.Name(), URL: url})
		}
		cfg.Targets = targets
	}

	cfg.CrawlerConf.GithubRepos = compact(cfg.CrawlerConf.GithubRepos)
	cfg.CrawlerConf.PageURLs = compact(cfg.CrawlerConf.PageURLs)
	cfg.SpeedTestConf.BenchmarkURLs = compact(cfg.SpeedTestConf.BenchmarkURLs)

	applyEnv(cfg)
	return nil
}

func applyEnv(cfg *types.Config) {
	overrideFromEnvInt(&cfg.CommonConf.MaxConcurrent, "MAX_CONCURRENT")
	overrideFromEnvInt(&cfg.ValidatorConf.Timeout, "TIMEOUT")
	overrideFromEnvInt(&cfg.ValidatorConf.TestTimeout, "TEST_TIMEOUT")
	overrideFromEnvFloat(&cfg.SpeedTestConf.MinSpeed, "MIN_SPEED")
	overrideFromEnvFloat(&cfg.SpeedTestConf.MaxSpeed, "MAX_SPEED")
	overrideFromEnvString(&cfg.CrawlerConf.GithubToken, "GITHUB_TOKEN")
	overrideFromEnvString(&cfg.LogConf.Level, "LOG_LEVEL")
}

func compact(values []string) []string {
	out := values[:0]
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func overrideFromEnvInt(target *int, envName string) {
	envValue := os.Getenv(envName)
	if envValue != "" {
		if intValue, err := strconv.Atoi(envValue); err == nil {
			*target = intValue
		}
	}
}

func overrideFromEnvFloat(target *float64, envName string) {
	envValue := os.Getenv(envName)
	if envValue != "" {
		if f, err := strconv.ParseFloat(envValue, 64); err == nil {
			*target = f
		}
	}
}

func overrideFromEnvString(target *string, envName string) {
	if envValue := os.Getenv(envName); envValue != "" {
		*target = envValue
	}
}
