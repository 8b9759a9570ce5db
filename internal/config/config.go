// internal/config/config.go
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// 摘要策略
const (
	SummarizerHeuristic = "heuristic"
	SummarizerLLM       = "llm"
	SummarizerAuto      = "auto"
)

// AppConfig 包含应用程序的所有配置
type AppConfig struct {
	// 基础配置
	Port      string `yaml:"port" json:"port"`
	DataDir   string `yaml:"data_dir" json:"data_dir"`
	LogDir    string `yaml:"log_dir" json:"log_dir"`
	LogLevel  string `yaml:"log_level" json:"log_level"`
	DebugMode bool   `yaml:"debug_mode" json:"debug_mode"`

	// LLM相关配置
	LLMProvider string            `yaml:"llm_provider" json:"llm_provider"`
	LLMConfig   map[string]string `yaml:"llm_config" json:"-"`

	// 场景反射器配置
	Show ShowConfig `yaml:"show" json:"show"`

	// 目录与存储
	CatalogDir   string `yaml:"catalog_dir" json:"catalog_dir"`
	LorePath     string `yaml:"lore_path" json:"lore_path"`
	DatabasePath string `yaml:"database_path" json:"database_path"`

	// 导演令牌密钥，为空时写接口不做鉴权
	DirectorSecret string `yaml:"director_secret" json:"-"`

	// OTLP 追踪端点，为空时使用 no-op tracer
	OTLPEndpoint string `yaml:"otlp_endpoint" json:"otlp_endpoint"`
}

// ShowConfig 控制消息日志、摘要与剧情推进
type ShowConfig struct {
	SummarizerMode     string        `yaml:"summarizer_mode" json:"summarizer_mode"`
	SummaryInterval    int           `yaml:"summary_interval" json:"summary_interval"`
	SummaryWindow      int           `yaml:"summary_window" json:"summary_window"`
	SummaryHistory     int           `yaml:"summary_history" json:"summary_history"`
	SummaryTimeout     time.Duration `yaml:"summary_timeout" json:"summary_timeout"`
	MaxLogSize         int           `yaml:"max_log_size" json:"max_log_size"`
	MaxHandoffHops     int           `yaml:"max_handoff_hops" json:"max_handoff_hops"`
	ActiveTTL          time.Duration `yaml:"active_ttl" json:"active_ttl"`
	ActiveCap          int           `yaml:"active_cap" json:"active_cap"`
	AutonomousInterval time.Duration `yaml:"autonomous_interval" json:"autonomous_interval"`
	AutoActivateArcs   bool          `yaml:"auto_activate_arcs" json:"auto_activate_arcs"`
	BusBuffer          int           `yaml:"bus_buffer" json:"bus_buffer"`
}

// Default 返回未读取任何环境变量时的默认配置
func Default() *AppConfig {
	return &AppConfig{
		Port:        "8080",
		DataDir:     "data",
		LogDir:      "logs",
		LogLevel:    "info",
		DebugMode:   true,
		LLMProvider: "",
		LLMConfig:   map[string]string{},
		Show: ShowConfig{
			SummarizerMode:     SummarizerAuto,
			SummaryInterval:    1,
			SummaryWindow:      10,
			SummaryHistory:     10,
			SummaryTimeout:     8 * time.Second,
			MaxLogSize:         100,
			MaxHandoffHops:     3,
			ActiveTTL:          0,
			ActiveCap:          32,
			AutonomousInterval: 0,
			AutoActivateArcs:   true,
			BusBuffer:          64,
		},
		DatabasePath: "",
	}
}

// Load 依次应用默认值、可选的YAML文件(SHOW_CONFIG)与环境变量
func Load() (*AppConfig, error) {
	// 尝试加载.env文件（可选）
	godotenv.Load()

	cfg := Default()

	if path := os.Getenv("SHOW_CONFIG"); path != "" {
		if err := cfg.mergeYAML(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.LLMProvider == "" || cfg.LLMConfig["api_key"] == "" {
		// 只记录警告，不返回错误
		log.Println("⚠️ 未配置LLM提供者或API密钥，角色将使用离线台词，摘要使用启发式策略")
	}

	return cfg, nil
}

func (c *AppConfig) mergeYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("读取配置文件失败 %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("解析配置文件失败 %s: %w", path, err)
	}
	if c.LLMConfig == nil {
		c.LLMConfig = map[string]string{}
	}
	return nil
}

func (c *AppConfig) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.DataDir = getEnv("DATA_DIR", c.DataDir)
	c.LogDir = getEnv("LOG_DIR", c.LogDir)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.DebugMode = getEnvBool("DEBUG_MODE", c.DebugMode)

	c.LLMProvider = getEnv("LLM_PROVIDER", c.LLMProvider)
	if key := providerAPIKey(c.LLMProvider); key != "" {
		c.LLMConfig["api_key"] = key
	}
	if model := os.Getenv("LLM_MODEL"); model != "" {
		c.LLMConfig["default_model"] = model
	}
	if baseURL := os.Getenv("LLM_BASE_URL"); baseURL != "" {
		c.LLMConfig["base_url"] = baseURL
	}

	c.Show.SummarizerMode = strings.ToLower(getEnv("SUMMARIZER_MODE", c.Show.SummarizerMode))
	c.Show.SummaryInterval = getEnvInt("SUMMARY_INTERVAL", c.Show.SummaryInterval)
	c.Show.SummaryWindow = getEnvInt("SUMMARY_WINDOW", c.Show.SummaryWindow)
	c.Show.SummaryHistory = getEnvInt("SUMMARY_HISTORY", c.Show.SummaryHistory)
	c.Show.SummaryTimeout = getEnvDuration("SUMMARY_TIMEOUT", c.Show.SummaryTimeout)
	c.Show.MaxLogSize = getEnvInt("MAX_LOG_SIZE", c.Show.MaxLogSize)
	c.Show.MaxHandoffHops = getEnvInt("MAX_HANDOFF_HOPS", c.Show.MaxHandoffHops)
	c.Show.ActiveTTL = getEnvDuration("ACTIVE_TTL", c.Show.ActiveTTL)
	c.Show.ActiveCap = getEnvInt("ACTIVE_CAP", c.Show.ActiveCap)
	c.Show.AutonomousInterval = getEnvDuration("AUTONOMOUS_INTERVAL", c.Show.AutonomousInterval)
	c.Show.AutoActivateArcs = getEnvBool("AUTO_ACTIVATE_ARCS", c.Show.AutoActivateArcs)
	c.Show.BusBuffer = getEnvInt("BUS_BUFFER", c.Show.BusBuffer)

	c.CatalogDir = getEnv("CATALOG_DIR", c.CatalogDir)
	c.LorePath = getEnv("LORE_MD_PATH", c.LorePath)
	c.DatabasePath = getEnv("DATABASE_PATH", c.DatabasePath)
	c.DirectorSecret = getEnv("AUTH_SECRET_KEY", c.DirectorSecret)
	c.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.OTLPEndpoint)
}

// providerAPIKey 按提供者读取对应的API密钥环境变量
func providerAPIKey(provider string) string {
	if key := os.Getenv("LLM_API_KEY"); key != "" {
		return key
	}
	switch provider {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "google":
		if key := os.Getenv("GEMINI_API_KEY"); key != "" {
			return key
		}
		return os.Getenv("GOOGLE_API_KEY")
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "openrouter":
		return os.Getenv("OPENROUTER_API_KEY")
	}
	return ""
}

// Validate 校验数值配置
func (c *AppConfig) Validate() error {
	s := c.Show
	switch {
	case s.SummaryInterval <= 0:
		return fmt.Errorf("summary_interval 必须为正数: %d", s.SummaryInterval)
	case s.SummaryWindow <= 0:
		return fmt.Errorf("summary_window 必须为正数: %d", s.SummaryWindow)
	case s.SummaryHistory <= 0:
		return fmt.Errorf("summary_history 必须为正数: %d", s.SummaryHistory)
	case s.MaxLogSize <= 0:
		return fmt.Errorf("max_log_size 必须为正数: %d", s.MaxLogSize)
	case s.MaxHandoffHops < 0:
		return fmt.Errorf("max_handoff_hops 不能为负数: %d", s.MaxHandoffHops)
	case s.ActiveCap <= 0:
		return fmt.Errorf("active_cap 必须为正数: %d", s.ActiveCap)
	case s.BusBuffer <= 0:
		return fmt.Errorf("bus_buffer 必须为正数: %d", s.BusBuffer)
	}
	switch s.SummarizerMode {
	case SummarizerHeuristic, SummarizerLLM, SummarizerAuto:
	default:
		return fmt.Errorf("未知的摘要策略: %s", s.SummarizerMode)
	}
	return nil
}

// LLMConfigured 报告是否具备调用LLM的最低配置
func (c *AppConfig) LLMConfigured() bool {
	if c.LLMProvider == "" {
		return false
	}
	// 本地兼容服务无需密钥
	if c.LLMProvider == "local" {
		return true
	}
	return c.LLMConfig["api_key"] != ""
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvBool 获取布尔类型环境变量
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt 获取整数类型环境变量，解析失败时返回默认值
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("⚠️ 环境变量 %s 不是整数: %q", key, value)
		return defaultValue
	}
	return n
}

// getEnvDuration 获取时长类型环境变量，如 "8s"、"2m"
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("⚠️ 环境变量 %s 不是有效时长: %q", key, value)
		return defaultValue
	}
	return d
}
