// Package config loads env-tagged configuration structs, backed by
// github.com/caarlos0/env for parsing and github.com/joho/godotenv for
// development-time .env files.
//
// Each configuration type is parsed exactly once per process and cached, so
// independent subsystems (database, cache, logging) can call Load for their
// own config without coordinating.
package config
