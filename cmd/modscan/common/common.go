/*
 * Copyright 2024 by Nedim Sabic Sabic
 * https://www.fibratus.io
 * All Rights Reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package common

import (
	"github.com/rabbitstack/modscan/internal/bootstrap"
	"github.com/rabbitstack/modscan/pkg/config"
	"github.com/rabbitstack/modscan/pkg/render"
	"github.com/rabbitstack/modscan/pkg/util/multierror"
)

// Enumeration produces the grid from the bootstrapped application.
type Enumeration func(app *bootstrap.App) (*render.Grid, error)

// Run bootstraps the application from the command config, runs the
// enumeration and renders its grid. The memory image is released
// before returning.
func Run(cfg *config.Config, enum Enumeration, opts ...bootstrap.Option) error {
	app, err := bootstrap.NewApp(cfg, opts...)
	if err != nil {
		return err
	}
	grid, err := enum(app)
	if err != nil {
		return multierror.Wrap(err, app.Close())
	}
	if err := app.Render(grid); err != nil {
		return multierror.Wrap(err, app.Close())
	}
	return app.Close()
}
