// 提供給atlas的schema loader，輸出所有model的DDL
// 用法: go run ./tools/atlas | atlas schema apply --dev-url ... --to file://stdin
package main

import (
	"fmt"
	"io"
	"os"

	"ariga.io/atlas-provider-gorm/gormschema"

	"webcarros/models"
)

func main() {
	stmts, err := gormschema.New("postgres").Load(
		&models.User{},
		&models.SsoProvider{},
		&models.UserIdentity{},
		&models.ImageUpload{},
		&models.Car{},
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load gorm schema: %v\n", err)
		os.Exit(1)
	}
	io.WriteString(os.Stdout, stmts)
}
