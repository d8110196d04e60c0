// Package config handles configuration loading for mulchat-gateway.
//
// Configuration is read from YAML, or from TOML when the file name ends in
// .toml. ${VAR_NAME} references are expanded from the environment before
// parsing, and any section left out keeps the value from Default().
//
// Default locations (in order):
//
//  1. The --config flag
//  2. Path from the MULCHAT_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/mulchat/gateway.yaml (or ~/.config/mulchat/gateway.yaml)
//
// Example:
//
//	server:
//	  http_addr: "0.0.0.0:3000"
//	  grpc_addr: "0.0.0.0:50051"
//	database:
//	  path: "./mulchat.db"
//	auth:
//	  jwt_secret: "${MULCHAT_JWT_SECRET}"
//	  token_ttl: "168h"
//	ai:
//	  provider: "gemini"        # gemini, ollama, openai, anthropic, none
//	  api_key: "${GEMINI_API_KEY}"
//	  model: "gemini-3-flash"
//	  fallback_model: "gemini-3-pro"
//	  timeout: "30s"
//	  single_flight: true
//	router:
//	  enforce_room_membership: true
//	  send_queue: 64
//	  dedupe_ttl: "5m"
//	logging:
//	  level: "info"             # debug, info, warn, error
//	  format: "text"            # text, json
//	  file: ""                  # optional JSON log file
//
// Durations use time.ParseDuration syntax.
package config
