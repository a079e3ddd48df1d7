// Copyright 2024 The Tessera authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"k8s.io/klog/v2"
)

// runStatusWatch renders a live, auto-refreshing status dashboard: a
// status pane on top, a log pane fed by klog below it, refreshed on a
// ticker until the user quits.
func runStatusWatch(a *app, breakdown, testConnectivity bool) error {
	grid := tview.NewGrid()
	grid.SetRows(3, 0, 1).SetColumns(0).SetBorders(true)

	statusView := tview.NewTextView()
	grid.AddItem(statusView, 0, 0, 1, 1, 0, 0, false)

	logView := tview.NewTextView()
	logView.ScrollToEnd()
	logView.SetMaxLines(10000)
	grid.AddItem(logView, 1, 0, 1, 1, 0, 0, false)

	helpView := tview.NewTextView()
	helpView.SetText("q: quit   r: refresh now")
	grid.AddItem(helpView, 2, 0, 1, 1, 0, 0, false)

	flag.Set("logtostderr", "false")
	flag.Set("alsologtostderr", "false")
	klog.SetOutput(logView)

	application := tview.NewApplication()

	refresh := func() {
		out, err := buildUnifiedStatus(a, false, false, false, breakdown, testConnectivity)
		if err != nil {
			statusView.SetText(fmt.Sprintf("status refresh failed: %v", err))
			return
		}
		statusView.SetText(formatUnifiedStatusText(out, breakdown, testConnectivity))
	}
	refresh()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				refresh()
				application.Draw()
			}
		}
	}()

	application.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Rune() {
		case 'q':
			application.Stop()
			return nil
		case 'r':
			refresh()
			application.Draw()
			return nil
		}
		return event
	})

	err := application.SetRoot(grid, true).Run()
	close(done)
	return err
}
