package main

import (
	"fmt"
	"os"

	"github.com/gordonklaus/portaudio"

	"strata/internal/store"
)

// RunCLI handles one-shot subcommands before serve mode starts. Returns
// true when a subcommand was recognized and executed.
func RunCLI(args []string, dbPath string) bool {
	if len(args) == 0 {
		return false
	}
	switch args[0] {
	case "devices":
		cliDevices()
		return true
	case "presets":
		cliPresets(dbPath)
		return true
	case "help", "-h", "--help":
		cliHelp()
		return true
	}
	return false
}

func cliHelp() {
	fmt.Println(`strata — multi-track live looper engine

usage:
  strata [flags]          run the engine (see -h for flags)
  strata devices          list audio and MIDI devices
  strata presets          list stored presets`)
}

func cliDevices() {
	if err := portaudio.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "portaudio: %v\n", err)
		os.Exit(1)
	}
	defer portaudio.Terminate()

	devices, err := ListAudioDevices()
	if err != nil {
		fmt.Fprintf(os.Stderr, "list devices: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("audio devices:")
	for _, d := range devices {
		def := ""
		if d.Default {
			def = " (default)"
		}
		fmt.Printf("  %2d: %s  in=%d out=%d%s\n", d.ID, d.Name, d.Inputs, d.Outputs, def)
	}

	ins, outs := ListMidiPorts()
	fmt.Println("midi inputs:")
	for i, name := range ins {
		fmt.Printf("  %2d: %s\n", i, name)
	}
	fmt.Println("midi outputs:")
	for i, name := range outs {
		fmt.Printf("  %2d: %s\n", i, name)
	}
}

func cliPresets(dbPath string) {
	st, err := store.New(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	presets, err := st.GetPresets()
	if err != nil {
		fmt.Fprintf(os.Stderr, "list presets: %v\n", err)
		os.Exit(1)
	}
	if len(presets) == 0 {
		fmt.Println("no stored presets")
		return
	}
	for _, p := range presets {
		fmt.Printf("%-20s quantize=%s subcycles=%d mute=%s\n",
			p.Name, p.Quantize, p.Subcycles, p.Mute)
	}
}
