// Promsource - Prometheus datasource backend for Grafana
// Copyright (C) 2025 Andy Dixon <andy@andydixon.com>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Welcome to Promsource!
//
// This is Mission Control - where we:
// 1. Hand the keys to the Grafana plugin SDK
// 2. Let it spawn a datasource instance per configured Prometheus
// 3. Answer queries until Grafana tells us to stand down
//
// Grafana launches this binary itself and speaks gRPC to it over
// stdin/stdout, so there is nothing to listen on and nothing to
// configure here. All the interesting bits live in datasource/.
package main

import (
	"os"

	"github.com/grafana/grafana-plugin-sdk-go/backend/datasource"
	"github.com/grafana/grafana-plugin-sdk-go/backend/log"

	ds "github.com/andydixon/promsource/datasource"
)

func main() {
	// Manage blocks until Grafana shuts the process down. It calls
	// ds.New once per datasource instance and disposes of old ones
	// whenever the datasource settings change.
	if err := datasource.Manage("andydixon-promsource-datasource", ds.New, datasource.ManageOpts{}); err != nil {
		log.DefaultLogger.Error(err.Error())
		os.Exit(1)
	}
}
