// atlas-loader 輸出資料表結構給 atlas 產生遷移檔
//
//	atlas migrate diff --env gorm
package main

import (
	"fmt"
	"io"
	"os"

	"ariga.io/atlas-provider-gorm/gormschema"

	"bidlot/models"
)

func main() {
	stmts, err := gormschema.New("postgres").Load(models.All()...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load gorm schema: %v\n", err)
		os.Exit(1)
	}
	io.WriteString(os.Stdout, stmts)
}
