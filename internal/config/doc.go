// Package config loads voicecore settings from YAML, an optional .env file
// and VOICECORE_* environment overrides, and converts them into the
// component configs of the capture, playback, analyzer and session packages.
package config
