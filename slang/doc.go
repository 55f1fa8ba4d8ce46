// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package slang compiles Slang shaders with slangc and loads the generated
// sources as kernel modules.
//
// LoadModule runs slangc twice against one source, first for the C++ host
// binding (-target torch-binding) and then for the raw kernel source,
// resolves the MSVC host toolchain on Windows, and hands both generated
// files to the build-and-load step. Builds are cached by content.
//
// Example:
//
//	import "github.com/born-ml/diffrast/slang"
//
//	func main() {
//	    store, _ := slang.OpenCache("")
//	    module, err := slang.LoadModule(ctx, "soft-rasterizer2d.slang", slang.Options{
//	        Root:    "third_party/slang",
//	        Verbose: true,
//	        Cache:   store,
//	    })
//	    if err != nil {
//	        var cerr *slang.CompileError
//	        if errors.As(err, &cerr) {
//	            fmt.Println(cerr.Diagnostics)
//	        }
//	        return
//	    }
//	    defer module.Close()
//	}
//
// # Logging
//
// Packages log through log/slog and are silent by default. Install a logger
// with SetLogger:
//
//	slang.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))
package slang
