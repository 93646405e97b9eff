package config

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// maxSetupAttempts bounds how often the wizard restarts on invalid input.
const maxSetupAttempts = 3

// RunSetupWizard asks for the most important settings on first start and
// saves the result.
func RunSetupWizard(cfg *Config, in io.Reader, out io.Writer) error {
	p := &prompter{reader: bufio.NewReader(in), out: out}

	fmt.Fprintln(out, "╔══════════════════════════════════════════════╗")
	fmt.Fprintln(out, "║           Quarry - First Run Setup           ║")
	fmt.Fprintln(out, "╚══════════════════════════════════════════════╝")

	for attempt := 1; ; attempt++ {
		p.section("Server")
		cfg.Server.Port = p.askInt("Game port", cfg.Server.Port)
		cfg.Server.MOTD = p.ask("Message of the day", cfg.Server.MOTD)
		cfg.Server.MaxPlayers = p.askInt("Max players", cfg.Server.MaxPlayers)
		cfg.Server.OnlineMode = p.askBool("Online mode (verify accounts)", cfg.Server.OnlineMode)

		p.section("Network")
		cfg.Network.MaxConnections = p.askInt("Max simultaneous connections", cfg.Network.MaxConnections)
		cfg.Network.CompressionThreshold = p.askInt("Compression threshold (-1 disables)", cfg.Network.CompressionThreshold)

		p.section("Services")
		cfg.Query.Enabled = p.askBool("Enable UDP query", cfg.Query.Enabled)
		cfg.API.Enabled = p.askBool("Enable admin API", cfg.API.Enabled)
		if cfg.API.Enabled && cfg.API.Token == "" && p.askBool("Generate an API token", true) {
			cfg.API.Token = newToken()
			fmt.Fprintf(out, "    API token: %s\n", cfg.API.Token)
		}
		cfg.MQTT.Enabled = p.askBool("Enable MQTT telemetry", cfg.MQTT.Enabled)
		if cfg.MQTT.Enabled {
			cfg.MQTT.BrokerURL = p.ask("MQTT broker host", cfg.MQTT.BrokerURL)
		}

		result := Validate(cfg)
		if result.IsValid() {
			for _, w := range result.Warnings {
				log.Warn().Str("field", w.Field).Msg(w.Message)
			}
			break
		}

		fmt.Fprintln(out, "\n⚠ Configuration has errors:")
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  - [%s] %s\n", e.Field, e.Message)
		}
		if attempt >= maxSetupAttempts || !p.askBool("Would you like to try again?", true) {
			return fmt.Errorf("configuration validation failed")
		}
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}
	fmt.Fprintln(out, "\n✓ Configuration saved to", cfg.Path())
	return nil
}

func newToken() string {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return hex.EncodeToString(b)
}

type prompter struct {
	reader *bufio.Reader
	out    io.Writer
}

func (p *prompter) section(name string) {
	fmt.Fprintf(p.out, "\n── %s ──\n", name)
}

func (p *prompter) line() string {
	input, _ := p.reader.ReadString('\n')
	return strings.TrimSpace(input)
}

func (p *prompter) ask(prompt, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(p.out, "  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Fprintf(p.out, "  %s: ", prompt)
	}
	if input := p.line(); input != "" {
		return input
	}
	return defaultVal
}

func (p *prompter) askInt(prompt string, defaultVal int) int {
	fmt.Fprintf(p.out, "  %s [%d]: ", prompt, defaultVal)
	input := p.line()
	if input == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Fprintf(p.out, "    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}

func (p *prompter) askBool(prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}
	fmt.Fprintf(p.out, "  %s [%s]: ", prompt, defaultStr)

	switch strings.ToLower(p.line()) {
	case "":
		return defaultVal
	case "yes", "y", "true", "1":
		return true
	}
	return false
}
