package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/TheGaf/gafTeddy/internal/config"
	"github.com/TheGaf/gafTeddy/internal/pwm"
	"github.com/TheGaf/gafTeddy/internal/servo"
)

// runCalibrator is the interactive servo calibrator: nudge each joint's
// neutral angle while watching the bear, then save the config.
func runCalibrator(path string, cfg config.Config) error {
	var sink pwm.Sink
	if cfg.PWM.Simulate {
		sink = pwm.NewSimulator()
		fmt.Println("PWM simulated: angles print, nothing moves.")
	} else {
		gpio := pwm.NewGPIOSink(cfg.PWM.Chip)
		defer gpio.Close()
		sink = gpio
	}

	mouth := servo.New(servoConfig(cfg.Servos.Mouth, cfg.Servos, cfg.Servos.MaxSpeedDegPerS.Mouth), sink)
	eyes := servo.New(servoConfig(cfg.Servos.Eyes, cfg.Servos, cfg.Servos.MaxSpeedDegPerS.Eyes), sink)
	mouth.Start()
	eyes.Start()
	defer mouth.Stop()
	defer eyes.Stop()

	fmt.Println("Calibration CLI")
	fmt.Println("Commands: select [mouth|eyes], up, down, setneutral, save, quit")

	selected := "mouth"
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Printf("[%s]> ", selected)
		if !scanner.Scan() {
			break
		}
		cmd := strings.ToLower(strings.TrimSpace(scanner.Text()))

		joint := &cfg.Servos.Mouth
		engine := mouth
		if selected == "eyes" {
			joint = &cfg.Servos.Eyes
			engine = eyes
		}

		switch {
		case cmd == "quit" || cmd == "q" || cmd == "exit":
			fmt.Println("Exiting calibrator.")
			return scanner.Err()
		case strings.HasPrefix(cmd, "select"):
			parts := strings.Fields(cmd)
			if len(parts) >= 2 && (parts[1] == "mouth" || parts[1] == "eyes") {
				selected = parts[1]
			} else {
				fmt.Println("select mouth|eyes")
			}
		case cmd == "up" || cmd == "u":
			joint.Neutral = min(joint.MaxAngle, joint.Neutral+2)
			engine.SetTarget(joint.Neutral, 200*time.Millisecond)
			fmt.Printf("%s neutral = %d\n", selected, joint.Neutral)
		case cmd == "down" || cmd == "d":
			joint.Neutral = max(joint.MinAngle, joint.Neutral-2)
			engine.SetTarget(joint.Neutral, 200*time.Millisecond)
			fmt.Printf("%s neutral = %d\n", selected, joint.Neutral)
		case cmd == "setneutral":
			fmt.Print("new neutral: ")
			if !scanner.Scan() {
				break
			}
			v, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
			if err != nil {
				fmt.Println("Invalid value")
				continue
			}
			joint.Neutral = max(joint.MinAngle, min(joint.MaxAngle, v))
			engine.SetTarget(joint.Neutral, 200*time.Millisecond)
			fmt.Printf("%s neutral = %d\n", selected, joint.Neutral)
		case cmd == "save":
			if err := config.Save(path, cfg); err != nil {
				fmt.Printf("Save failed: %v\n", err)
			} else {
				fmt.Println("Saved", path)
			}
		case cmd == "":
		default:
			fmt.Println("Unknown command.")
		}
	}
	return scanner.Err()
}
