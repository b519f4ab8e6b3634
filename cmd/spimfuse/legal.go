// Copyright (C) 2020 Markus L. Noga
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

package main

// Licensing information
const legal = `spimfuse is Copyright (c) 2020 Markus L. Noga
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

The binary version of this program uses several open source libraries, which come with their own licensing terms:

| Library                                                                            | License type                            | Usage                     |
|------------------------------------------------------------------------------------|-----------------------------------------|---------------------------|
| [github.com/gin-gonic/gin](https://github.com/gin-gonic/gin)                       | MIT License                             | REST API                  |
| [github.com/golang/geo](https://github.com/golang/geo)                             | Apache 2.0 License                      | affine geometry           |
| [github.com/klauspost/compress](https://github.com/klauspost/compress)             | BSD 3-Clause                            | volume file compression   |
| [github.com/klauspost/cpuid](https://github.com/klauspost/cpuid)                   | MIT License                             | device information        |
| [github.com/lucasb-eyer/go-colorful](https://github.com/lucasb-eyer/go-colorful)   | MIT License                             | preview color ramps       |
| [github.com/pbnjay/memory](https://github.com/pbnjay/memory)                       | BSD 3-Clause "New" or "Revised" License | memory budgets            |
| [github.com/valyala/fastrand](https://github.com/valyala/fastrand)                 | MIT License                             | view shuffling            |
| [golang.org/x/image](https://golang.org/x/image)                                   | BSD 3-Clause                            | TIFF export               |
| [gonum.org/v1/gonum](https://gonum.org/v1/gonum)                                   | BSD 3-Clause "New" or "Revised" License | FFT, linear algebra       |
| [gopkg.in/yaml.v3](https://gopkg.in/yaml.v3)                                       | MIT and Apache 2.0 License              | configuration, manifests  |
| [github.com/go-playground/validator/](https://github.com/go-playground/validator/) | MIT License                             | indirect                  |
| [github.com/json-iterator/go](https://github.com/json-iterator/go)                 | MIT License                             | indirect                  |
| [github.com/mattn/go-isatty](https://github.com/mattn/go-isatty)                   | MIT License                             | indirect                  |
| [golang.org/x/sys](https://golang.org/x/sys)                                       | BSD 3-Clause                            | indirect                  |
| [google.golang.org/protobuf](https://google.golang.org/protobuf)                   | BSD 3-Clause                            | indirect                  |
`
