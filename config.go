package bagplay

import (
	"net/url"
	"strings"

	"github.com/spf13/viper"
)

// Config carries the playback and republish settings for the bagplay
// binaries.  The core Player/MultiPlayer take their parameters directly;
// this struct only feeds the outer loop and the connectors.
type Config struct {
	Debug bool

	Rate               float64 // playback scale; 2.0 plays at twice recorded speed
	StartTime          float64 // unix seconds mapped to the first message; 0 means "now"
	AllowFuture        bool
	ContinueOnMismatch bool

	QueueDirectory string
	MQ             string // amqp, stomp, mqtt or none

	AmqpURL      *url.URL // AMQP URL (password comes from the token)
	AmqpExchange string   // Exchange to republish played records on
	AmqpToken    string   // File location of the token

	StompUser     string
	StompPassword string
	StompURL      *url.URL
	StompHost     string
	StompTopic    string
	StompTLS      bool

	MqttBroker      string
	MqttClientID    string
	MqttUsername    string
	MqttPassword    string
	MqttTopicPrefix string

	Metrics     bool
	MetricsPort int
	Profile     bool
	ProfilePort int

	OutputFile string
}

// ReadConfig loads the configuration from the default search paths.
func (c *Config) ReadConfig() {
	c.ReadConfigWithPath("")
}

// ReadConfigWithPath loads the configuration, preferring the explicit file
// when one is given.  Environment variables override file values for every
// key, with dots replaced by underscores.
func (c *Config) ReadConfigWithPath(configPath string) {
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("/etc/bagplay/")
		viper.AddConfigPath("$HOME/.bagplay")
		viper.AddConfigPath(".")
		viper.AddConfigPath("config/")
	}
	err := viper.ReadInConfig()
	if err != nil {
		// A missing config file is fine, everything has a default
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warnln("Failed to read config file:", err)
		}
	}

	// Automatically look to the ENV for all "Gets"
	viper.AutomaticEnv()
	// Look for environment variables with underscores
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("playback.rate", 1.0)
	viper.SetDefault("queue_directory", "/tmp/bagplay-queue")
	viper.SetDefault("mq", "none")
	viper.SetDefault("amqp.exchange", "played-bags")
	viper.SetDefault("amqp.token_location", "/etc/bagplay/token")
	viper.SetDefault("stomp.topic", "bagplay")
	viper.SetDefault("mqtt.client_id", "bagplay")
	viper.SetDefault("mqtt.topic_prefix", "bagplay")
	viper.SetDefault("metrics.port", 8000)
	viper.SetDefault("profile.port", 6060)

	c.Debug = viper.GetBool("debug")

	c.Rate = viper.GetFloat64("playback.rate")
	if c.Rate <= 0 {
		log.Warnln("Non-positive playback.rate, falling back to 1.0")
		c.Rate = 1.0
	}
	c.StartTime = viper.GetFloat64("playback.start_time")
	c.AllowFuture = viper.GetBool("playback.allow_future")
	c.ContinueOnMismatch = viper.GetBool("playback.continue_on_mismatch")

	c.QueueDirectory = viper.GetString("queue_directory")
	c.MQ = strings.ToLower(viper.GetString("mq"))

	if mqURL := viper.GetString("amqp.url"); mqURL != "" {
		c.AmqpURL, err = url.Parse(mqURL)
		if err != nil {
			log.Errorln("Failed to parse AMQP URL:", err)
		}
		log.Debugln("AMQP URL:", c.AmqpURL)
	}
	c.AmqpExchange = viper.GetString("amqp.exchange")
	c.AmqpToken = viper.GetString("amqp.token_location")

	c.StompUser = viper.GetString("stomp.user")
	c.StompPassword = viper.GetString("stomp.password")
	if stompURL := viper.GetString("stomp.url"); stompURL != "" {
		c.StompURL, err = url.Parse(stompURL)
		if err != nil {
			log.Errorln("Failed to parse STOMP URL:", err)
		}
	}
	c.StompHost = viper.GetString("stomp.host")
	c.StompTopic = viper.GetString("stomp.topic")
	c.StompTLS = viper.GetBool("stomp.tls")

	c.MqttBroker = viper.GetString("mqtt.broker")
	c.MqttClientID = viper.GetString("mqtt.client_id")
	c.MqttUsername = viper.GetString("mqtt.username")
	c.MqttPassword = viper.GetString("mqtt.password")
	c.MqttTopicPrefix = viper.GetString("mqtt.topic_prefix")

	c.Metrics = viper.GetBool("metrics.enable")
	c.MetricsPort = viper.GetInt("metrics.port")
	c.Profile = viper.GetBool("profile.enable")
	c.ProfilePort = viper.GetInt("profile.port")

	c.OutputFile = viper.GetString("output.file")
}
