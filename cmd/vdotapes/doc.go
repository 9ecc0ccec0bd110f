// Command vdotapes serves and maintains a vdotapes media catalog.
//
// The subcommands are:
//
//	vdotapes serve                    Run the HTTP API
//	vdotapes migrate status|up        Inspect or apply schema migrations
//	vdotapes migrate rollback         Restore the legacy annotation tables
//	vdotapes migrate remove-backups   Close the compatibility window
//	vdotapes backup export|import|validate FILE
//	vdotapes sync FILE                Apply an annotation sync document
//	vdotapes settings list|get|set|delete
//	vdotapes version
//
// Configuration is read from defaults, a TOML file (--config or
// $VDOTAPES_CONFIG), a .env file and the environment, in that order of
// increasing precedence.
package main
