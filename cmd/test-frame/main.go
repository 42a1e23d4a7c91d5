// Command test-frame is a manual tool for the diffuser wire format. It
// decodes a notification captured with a BLE sniffer, or prints the bytes a
// command would put on the wire.
//
// Usage:
//
//	go run ./cmd/test-frame decode 05010e1e...
//	go run ./cmd/test-frame encode power on
//	go run ./cmd/test-frame encode workmode 09:00 21:00 127 30 280
//	go run ./cmd/test-frame encode oil-name Lavender
package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/chaz8081/felshare-ble/internal/ble/protocol"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: test-frame decode <hex> | encode <command> [args...]")
		fmt.Fprintln(os.Stderr, "commands: power on|off, fan on|off, status, bulk, oil-name <name>,")
		fmt.Fprintln(os.Stderr, "          oil-capacity <ml>, oil-remain <ml>, oil-consumption <ml/h>,")
		fmt.Fprintln(os.Stderr, "          workmode <start> <end> <days_mask> <run_s> <stop_s>")
	}
	flag.Parse()
	if flag.NArg() < 2 {
		flag.Usage()
		os.Exit(2)
	}

	var err error
	switch flag.Arg(0) {
	case "decode":
		err = decode(strings.Join(flag.Args()[1:], ""))
	case "encode":
		err = encode(flag.Arg(1), flag.Args()[2:])
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func decode(s string) error {
	s = strings.NewReplacer(" ", "", ":", "", "0x", "").Replace(s)
	frame, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("bad hex: %w", err)
	}
	st := protocol.DecodeFrame(frame)
	if st.IsEmpty() {
		fmt.Println("Frame not recognised (no fields decoded).")
		return nil
	}
	out, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func encode(cmd string, args []string) error {
	var frame []byte
	switch cmd {
	case "power", "fan":
		if len(args) != 1 {
			return fmt.Errorf("%s needs on or off", cmd)
		}
		on := args[0] == "on"
		if cmd == "power" {
			frame = protocol.EncodePower(on)
		} else {
			frame = protocol.EncodeFan(on)
		}
	case "status":
		frame = protocol.EncodeStatusRequest()
	case "bulk":
		frame = protocol.EncodeBulkRequest()
	case "oil-name":
		frame = protocol.EncodeOilName(strings.Join(args, " "), true)
	case "oil-capacity", "oil-remain":
		ml, err := intArg(args, 0)
		if err != nil {
			return err
		}
		if cmd == "oil-capacity" {
			frame = protocol.EncodeOilCapacity(ml)
		} else {
			frame = protocol.EncodeOilRemain(ml)
		}
	case "oil-consumption":
		if len(args) != 1 {
			return fmt.Errorf("oil-consumption needs a rate in ml/h")
		}
		rate, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return err
		}
		frame = protocol.EncodeOilConsumption(protocol.OilConsumptionRaw(rate))
	case "workmode":
		w, err := workModeArgs(args)
		if err != nil {
			return err
		}
		frame = protocol.EncodeWorkMode(w)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	fmt.Println(hex.EncodeToString(frame))
	return nil
}

func workModeArgs(args []string) (protocol.WorkMode, error) {
	var w protocol.WorkMode
	if len(args) != 5 {
		return w, fmt.Errorf("workmode needs <start> <end> <days_mask> <run_s> <stop_s>")
	}
	var err error
	if w.StartHour, w.StartMinute, err = protocol.ParseHHMM(args[0]); err != nil {
		return w, err
	}
	if w.EndHour, w.EndMinute, err = protocol.ParseHHMM(args[1]); err != nil {
		return w, err
	}
	if w.DayMask, err = intArg(args, 2); err != nil {
		return w, err
	}
	w.Enabled = true
	run, err := intArg(args, 3)
	if err != nil {
		return w, err
	}
	stop, err := intArg(args, 4)
	if err != nil {
		return w, err
	}
	w.RunSeconds = uint16(protocol.Clamp(run, 0, 0xFFFF))
	w.StopSeconds = uint16(protocol.Clamp(stop, 0, 0xFFFF))
	return w, nil
}

func intArg(args []string, i int) (int, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("missing argument %d", i+1)
	}
	return strconv.Atoi(args[i])
}
