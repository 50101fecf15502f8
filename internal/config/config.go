package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the full configuration surface for the application.
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	HTTP         HTTPConfig         `mapstructure:"http"`
	Postgres     PostgresConfig     `mapstructure:"postgres"`
	Scylla       ScyllaConfig       `mapstructure:"scylla"`
	Kafka        KafkaConfig        `mapstructure:"kafka"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
	LoadTest     LoadTestConfig     `mapstructure:"load_test"`
	Agent        AgentConfig        `mapstructure:"agent"`
	Telephony    TelephonyConfig    `mapstructure:"telephony"`
	Conversation ConversationConfig `mapstructure:"conversation"`
	Throttle     ThrottleConfig     `mapstructure:"throttle"`
}

type AppConfig struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	// ShutdownTimeout bounds how long in-flight requests may drain.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

type ScyllaConfig struct {
	Hosts       []string      `mapstructure:"hosts"`
	Port        int           `mapstructure:"port"`
	Keyspace    string        `mapstructure:"keyspace"`
	Consistency string        `mapstructure:"consistency"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type KafkaConfig struct {
	Brokers         []string      `mapstructure:"brokers"`
	ClientID        string        `mapstructure:"client_id"`
	DispatchTopic   string        `mapstructure:"dispatch_topic"`
	EventTopic      string        `mapstructure:"event_topic"`
	ConsumerGroupID string        `mapstructure:"consumer_group_id"`
	CommitInterval  time.Duration `mapstructure:"commit_interval"`
	Partitions      int           `mapstructure:"partitions"`
}

type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
	RunTTL       time.Duration `mapstructure:"run_ttl"`
}

type TelemetryConfig struct {
	Endpoint       string  `mapstructure:"endpoint"`
	ServiceVersion string  `mapstructure:"service_version"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
	TracingEnabled bool    `mapstructure:"tracing_enabled"`
}

// LoadTestConfig holds batch defaults used when the CLI or API omits a value.
type LoadTestConfig struct {
	CallCount    int           `mapstructure:"call_count"`
	Interval     time.Duration `mapstructure:"interval"`
	CallDuration time.Duration `mapstructure:"call_duration"`
	AgentName    string        `mapstructure:"agent_name"`
}

// AgentConfig describes the agent hosted by an agent worker process.
type AgentConfig struct {
	Name       string        `mapstructure:"name"`
	Direction  string        `mapstructure:"direction"`
	JobTimeout time.Duration `mapstructure:"job_timeout"`
}

type TelephonyConfig struct {
	Provider string              `mapstructure:"provider"`
	Mock     MockTelephonyConfig `mapstructure:"mock"`
	Twilio   TwilioConfig        `mapstructure:"twilio"`
}

// MockTelephonyConfig weights the simulated carrier outcomes.
type MockTelephonyConfig struct {
	AnswerRate     float64       `mapstructure:"answer_rate"`
	BusyRate       float64       `mapstructure:"busy_rate"`
	NoAnswerRate   float64       `mapstructure:"no_answer_rate"`
	MinAnswerDelay time.Duration `mapstructure:"min_answer_delay"`
	MaxAnswerDelay time.Duration `mapstructure:"max_answer_delay"`
	Seed           int64         `mapstructure:"seed"`
}

type TwilioConfig struct {
	AccountSID    string        `mapstructure:"account_sid"`
	AuthToken     string        `mapstructure:"auth_token"`
	FromNumber    string        `mapstructure:"from_number"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	AnswerTimeout time.Duration `mapstructure:"answer_timeout"`
	Twiml         string        `mapstructure:"twiml"`
	// CallsPerSecond caps call creation against the account CPS limit.
	CallsPerSecond float64 `mapstructure:"calls_per_second"`
}

// ConversationConfig names the capability set used by conversation sessions.
type ConversationConfig struct {
	STT           string `mapstructure:"stt"`
	LLM           string `mapstructure:"llm"`
	TTS           string `mapstructure:"tts"`
	VAD           string `mapstructure:"vad"`
	TurnDetection string `mapstructure:"turn_detection"`
}

type ThrottleConfig struct {
	MaxActiveCalls int           `mapstructure:"max_active_calls"`
	SlotTTL        time.Duration `mapstructure:"slot_ttl"`
}

// Load reads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvPrefix("VOICELOAD")
	v.SetEnvKeyReplacer(NewEnvReplacer())

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file: %w", err)
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// NewEnvReplacer standardizes environment variable names.
func NewEnvReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_", "-", "_")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "voice-load-test")
	v.SetDefault("app.env", "development")

	v.SetDefault("http.port", 8080)
	v.SetDefault("http.shutdown_timeout", "10s")

	v.SetDefault("kafka.dispatch_topic", "agent-dispatch")
	v.SetDefault("kafka.event_topic", "call-events")
	v.SetDefault("kafka.consumer_group_id", "voice-load-test")
	v.SetDefault("kafka.commit_interval", time.Second)
	v.SetDefault("kafka.partitions", 12)

	v.SetDefault("redis.key_prefix", "voiceload")
	v.SetDefault("redis.run_ttl", 24*time.Hour)

	v.SetDefault("load_test.call_count", 3)
	v.SetDefault("load_test.interval", 5*time.Second)
	v.SetDefault("load_test.call_duration", 10*time.Second)
	v.SetDefault("load_test.agent_name", "outbound_agent")

	v.SetDefault("agent.name", "outbound_agent")
	v.SetDefault("agent.direction", "outbound")
	v.SetDefault("agent.job_timeout", 10*time.Minute)

	v.SetDefault("telephony.provider", "mock")
	v.SetDefault("telephony.mock.answer_rate", 0.8)
	v.SetDefault("telephony.mock.busy_rate", 0.1)
	v.SetDefault("telephony.mock.no_answer_rate", 0.1)
	v.SetDefault("telephony.mock.min_answer_delay", time.Second)
	v.SetDefault("telephony.mock.max_answer_delay", 5*time.Second)
	v.SetDefault("telephony.twilio.poll_interval", time.Second)
	v.SetDefault("telephony.twilio.answer_timeout", 60*time.Second)
	v.SetDefault("telephony.twilio.calls_per_second", 1.0)

	v.SetDefault("conversation.stt", "deepgram/nova-3")
	v.SetDefault("conversation.llm", "openai/gpt-4o-mini")
	v.SetDefault("conversation.tts", "cartesia")
	v.SetDefault("conversation.vad", "silero")
	v.SetDefault("conversation.turn_detection", "multilingual")

	v.SetDefault("throttle.slot_ttl", 15*time.Minute)
}
