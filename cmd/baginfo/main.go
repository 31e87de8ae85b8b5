package main

import (
	"os"
	"strconv"

	"github.com/jessevdk/go-flags"
	"github.com/pterm/pterm"
	bagplay "github.com/robostream/bagplay"
	"github.com/sirupsen/logrus"
)

var (
	version string
	commit  string
	date    string
	builtBy string
)

type Options struct {
	Verbose []bool `short:"v" long:"verbose" description:"Show verbose debug information"`
	Version bool   `short:"V" long:"version" description:"Print version information"`

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
		pterm.Println("Version:", version, "Commit:", commit, "Date:", date, "Built By:", builtBy)
		return
	}

	logger := logrus.New()
	if len(options.Verbose) > 0 {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.WarnLevel)
	}
	bagplay.SetLogger(logger)

	failed := false
	for _, bagPath := range options.Args.Bags {
		if !inspectBag(bagPath) {
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}

// inspectBag scans one bag front to back and prints its topic table.
func inspectBag(bagPath string) bool {
	spinner, _ := pterm.DefaultSpinner.Start("Scanning " + bagPath)

	player := bagplay.NewPlayer(1.0)
	stats := bagplay.NewStatsCollector()
	stats.Attach(player)

	if err := player.Open(bagPath, bagplay.Time{}, false); err != nil {
		spinner.Fail("Failed to open " + bagPath)
		pterm.Error.Println(err)
		return false
	}
	defer player.Close()

	for player.Advance() {
	}
	spinner.Success("Scanned " + bagPath)

	pterm.DefaultSection.Println(bagPath + " (version " + player.VersionString() + ")")

	tableData := pterm.TableData{
		{"Topic", "Datatype", "MD5", "Messages", "Bytes"},
	}
	for _, topic := range stats.Topics() {
		tableData = append(tableData, []string{
			topic.Topic,
			topic.Datatype,
			topic.MD5Sum,
			strconv.FormatUint(topic.Messages, 10),
			strconv.FormatUint(topic.Bytes, 10),
		})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(tableData).Render(); err != nil {
		pterm.Error.Println("Failed to render topic table:", err)
	}

	messages, bytes := stats.Totals()
	pterm.Info.Println("Total:", messages, "messages,", bytes, "bytes over",
		player.Duration().String(), "recorded seconds")
	return true
}
