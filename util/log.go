package util

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/astaxie/beego/logs"
)

type logconfig struct {
	Filename string `json:"filename"`
	Level    int    `json:"level"`
	MaxLines int    `json:"maxlines"`
	MaxSize  int    `json:"maxsize"`
	Daily    bool   `json:"daily"`
	MaxDays  int    `json:"maxdays"`
	Color    bool   `json:"color"`
}

var logCfg = logconfig{
	Filename: os.Args[0],
	Level:    logs.LevelInformational,
	Daily:    true,
	MaxSize:  10 * 1024 * 1024,
	MaxLines: 100 * 1024,
	MaxDays:  7,
	Color:    false,
}

// LogInit points the process-wide beego logger at dir/filename, or at the
// console in debug mode.
func LogInit(dir string, debug bool, filename string) error {
	if debug {
		logCfg.Level = logs.LevelDebug
		value, err := json.Marshal(&logconfig{Level: logCfg.Level, Color: true})
		if err != nil {
			return err
		}
		if err = logs.SetLogger(logs.AdapterConsole, string(value)); err != nil {
			return fmt.Errorf("console logger init fail, %s", err.Error())
		}
	} else {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("log dir %s create fail, %s", dir, err.Error())
		}
		logCfg.Filename = filepath.Join(dir, filename)
		value, err := json.Marshal(&logCfg)
		if err != nil {
			return err
		}
		if err = logs.SetLogger(logs.AdapterFile, string(value)); err != nil {
			return fmt.Errorf("file logger init fail, %s", err.Error())
		}
	}
	logs.Async(100)
	logs.EnableFuncCallDepth(true)
	logs.SetLogFuncCallDepth(3)
	logs.Info("%s version %s", filepath.Base(os.Args[0]), VersionGet())
	return nil
}
