// Package main provides the exprauth CLI: evaluate attachment expressions
// against an ad-hoc security context, for policy authoring and debugging.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/authz-engine/exprauth/internal/attachment"
	"github.com/authz-engine/exprauth/internal/cel"
	"github.com/authz-engine/exprauth/internal/engine"
	"github.com/authz-engine/exprauth/internal/params"
	"github.com/authz-engine/exprauth/pkg/types"
)

var (
	// Version information (set at build time)
	Version = "dev"
)

const (
	exitAllow = 0
	exitDeny  = 1
	exitFault = 2
)

func main() {
	var (
		attachmentDir = flag.String("attachments", "", "Directory of attachment YAML files")
		expression    = flag.String("expr", "", "Ad-hoc expression to evaluate (common capability set)")
		operation     = flag.String("operation", "", "Operation whose pre-authorize expression to evaluate")
		principal     = flag.String("principal", "", "Principal name (empty = anonymous)")
		authorities   = flag.String("authorities", "", "Comma-separated granted authorities")
		rememberMe    = flag.Bool("remember-me", false, "Mark the principal as remember-me authenticated")
		rolePrefix    = flag.String("role-prefix", cel.DefaultRolePrefix, "Default role prefix for hasRole")
		logLevel      = flag.String("log-level", "warn", "Log level (debug, info, warn, error)")
		showVersion   = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("exprauth %s\n", Version)
		os.Exit(exitAllow)
	}

	logger, err := initLogger(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(exitFault)
	}
	defer logger.Sync()

	celEngine, err := cel.NewEngine(cel.Options{
		RolePrefix: *rolePrefix,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("Failed to build expression engine", zap.Error(err))
		os.Exit(exitFault)
	}

	auth := buildAuthentication(*principal, *authorities, *rememberMe)

	switch {
	case *expression != "":
		os.Exit(evalAdHoc(celEngine, auth, *expression, logger))
	case *operation != "" && *attachmentDir != "":
		os.Exit(evalOperation(celEngine, auth, *attachmentDir, *operation, logger))
	default:
		fmt.Fprintln(os.Stderr, "either -expr, or -operation with -attachments, is required")
		os.Exit(exitFault)
	}
}

func buildAuthentication(principal, authorities string, rememberMe bool) *types.Authentication {
	if principal == "" {
		return types.NewAnonymous()
	}
	var granted []string
	for _, a := range strings.Split(authorities, ",") {
		if a = strings.TrimSpace(a); a != "" {
			granted = append(granted, a)
		}
	}
	auth := types.NewAuthentication(principal, principal, granted...)
	auth.RememberMe = rememberMe
	return auth
}

func evalAdHoc(celEngine *cel.Engine, auth *types.Authentication, expression string, logger *zap.Logger) int {
	compiled, err := celEngine.CompileCommon("cli", expression)
	if err != nil {
		logger.Error("Compilation failed", zap.Error(err))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitFault
	}

	root := celEngine.NewRoot(context.Background(), auth)
	allowed, err := celEngine.Evaluate(compiled, root, nil)
	if err != nil {
		logger.Error("Evaluation failed", zap.Error(err))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitFault
	}
	return printDecision(allowed)
}

func evalOperation(celEngine *cel.Engine, auth *types.Authentication, dir, operation string, logger *zap.Logger) int {
	loader := attachment.NewLoader(celEngine, params.NewBinder(), logger)
	registry, err := loader.LoadDirectory(dir)
	if err != nil {
		logger.Error("Failed to load attachments", zap.Error(err))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitFault
	}

	interceptor := engine.NewInterceptor(celEngine, attachment.NewStore(registry), params.NewBinder(), engine.Options{Logger: logger})
	_, err = interceptor.BeforeInvocation(context.Background(), auth, &types.MethodInvocation{Operation: operation})
	switch {
	case err == nil:
		return printDecision(true)
	case types.IsDenied(err):
		return printDecision(false)
	default:
		logger.Error("Evaluation failed", zap.Error(err))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitFault
	}
}

func printDecision(allowed bool) int {
	if allowed {
		fmt.Println("ALLOW")
		return exitAllow
	}
	fmt.Println("DENY")
	return exitDeny
}

// initLogger initializes the zap logger
func initLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	return config.Build()
}
