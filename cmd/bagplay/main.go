package main

import (
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	bagplay "github.com/robostream/bagplay"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	version string
	commit  string
	date    string
	builtBy string
)

type Options struct {
	Verbose     []bool  `short:"v" long:"verbose" description:"Show verbose debug information"`
	Version     bool    `short:"V" long:"version" description:"Print version information"`
	Config      string  `short:"c" long:"config" description:"Configuration file to use"`
	Rate        float64 `short:"r" long:"rate" description:"Playback rate multiplier, overrides the configuration" default:"0"`
	Start       float64 `short:"s" long:"start" description:"Unix seconds the first message maps to; 0 means now" default:"0"`
	AllowFuture bool    `long:"allow-future" description:"Try to open future and unsupported bag versions (unsafe)"`

	Args struct {
		Bags []string `positional-arg-name:"BAG" required:"1"`
	} `positional-args:"yes"`
}

func main() {
	var options Options
	if _, err := flags.Parse(&options); err != nil {
		os.Exit(1)
	}

	if options.Version {
		logrus.Println("Version:", version, "Commit:", commit, "Date:", date, "Built By:", builtBy)
		return
	}

	bagplay.BagplayVersion = version
	bagplay.BagplayCommit = commit
	bagplay.BagplayDate = date
	bagplay.BagplayBuiltBy = builtBy

	logger := logrus.New()
	textFormatter := logrus.TextFormatter{}
	textFormatter.DisableLevelTruncation = true
	textFormatter.FullTimestamp = true
	logger.SetFormatter(&textFormatter)
	bagplay.SetLogger(logger)

	// Load the configuration
	config := bagplay.Config{}
	config.ReadConfigWithPath(options.Config)

	if len(options.Verbose) > 0 || config.Debug {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}
	if options.Rate > 0 {
		config.Rate = options.Rate
	}
	if options.Start > 0 {
		config.StartTime = options.Start
	}
	if options.AllowFuture {
		config.AllowFuture = true
	}

	logger.Infoln("Starting bagplay", version, "commit:", commit, "built on:", date, "built by:", builtBy)

	if config.Metrics {
		bagplay.StartMetrics(config.MetricsPort)
	}
	if config.Profile {
		bagplay.StartProfile(config.ProfilePort)
	}

	origin := originTime(config.StartTime)

	mp := &bagplay.MultiPlayer{}

	var fileWriter *bagplay.FileWriter
	if config.OutputFile != "" {
		var err error
		fileWriter, err = bagplay.NewFileWriter(config.OutputFile, logger)
		if err != nil {
			logger.Fatalln("Failed to open output file:", err)
		}
		defer func() {
			if err := fileWriter.Close(); err != nil {
				logger.Errorln("Failed to close output file:", err)
			}
		}()
	}

	var cq *bagplay.ConfirmationQueue
	group := new(errgroup.Group)
	if config.MQ != "" && config.MQ != "none" {
		cq = bagplay.NewConfirmationQueue(&config)
		republisher := bagplay.NewRepublisher(cq, 5*time.Minute)
		defer republisher.Stop()
		republisher.Attach(mp)

		switch config.MQ {
		case "amqp":
			group.Go(func() error { bagplay.StartAMQP(&config, cq); return nil })
		case "stomp":
			group.Go(func() error { bagplay.StartStomp(&config, cq); return nil })
		case "mqtt":
			group.Go(func() error { bagplay.StartMQTT(&config, cq); return nil })
		default:
			logger.Fatalln("Unknown mq type:", config.MQ)
		}
	}

	if fileWriter != nil {
		mp.AddRawHandler("*", func(topic string, raw *bagplay.RawMessage, playback, recorded bagplay.Time) {
			envelope, err := bagplay.PackageRecord(topic, raw, playback, recorded)
			if err != nil {
				logger.Errorln("Failed to package record for output file:", err)
				return
			}
			if err := fileWriter.Write(envelope); err != nil {
				logger.Errorln("Failed to write record to output file:", err)
			}
		})
	}

	if err := mp.Open(options.Args.Bags, origin, config.Rate, config.AllowFuture); err != nil {
		logger.Fatalln("Failed to open bags:", err)
	}
	defer mp.Close()

	// Pace the playback by wallclock: sleep until each record's playback
	// time, measured against the moment the first record is due.
	first, ok := mp.NextTime()
	if !ok {
		logger.Warnln("No message records in any bag")
		return
	}
	wallStart := time.Now()
	for {
		next, ok := mp.NextTime()
		if !ok {
			break
		}
		wait := next.Sub(first) - time.Since(wallStart)
		if wait > 0 {
			time.Sleep(wait)
		}
		if !mp.Advance() {
			break
		}
	}

	logger.Infoln("Playback finished after", mp.Duration().String(), "recorded seconds")
	if fileWriter != nil {
		logger.Infoln("Wrote", fileWriter.Records(), "records to", config.OutputFile)
	}

	if cq != nil {
		drainQueue(cq, logger)
		if err := cq.Close(); err != nil {
			logger.Errorln("Failed to close republish queue:", err)
		}
	}
}

// originTime maps the configured start time to a playback origin,
// defaulting to the current wallclock.
func originTime(startTime float64) bagplay.Time {
	if startTime <= 0 {
		now := time.Now()
		return bagplay.Time{Sec: uint32(now.Unix()), Nsec: uint32(now.Nanosecond())}
	}
	sec := uint32(startTime)
	nsec := uint32((startTime - float64(sec)) * 1e9)
	return bagplay.Time{Sec: sec, Nsec: nsec}
}

// drainQueue waits for the connectors to empty the republish queue, giving
// up after a minute.
func drainQueue(cq *bagplay.ConfirmationQueue, logger *logrus.Logger) {
	deadline := time.Now().Add(time.Minute)
	for cq.Size() > 0 {
		if time.Now().After(deadline) {
			logger.Warnln("Republish queue still has", cq.Size(), "messages, leaving them on disk")
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
}
