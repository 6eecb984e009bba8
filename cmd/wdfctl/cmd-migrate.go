package main

import "context"

type cmdMigrate struct {
	Store StoreConfig `group:"Store" namespace:"store" env-namespace:"STORE"`
	Log   LogConfig   `group:"Logging" namespace:"log" env-namespace:"LOG"`
}

func (cmd cmdMigrate) Execute(_ []string) error {
	initLog(cmd.Log)
	var ctx = context.Background()

	st, err := cmd.Store.open(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	if err = st.Migrate(ctx); err != nil {
		return err
	}
	successf("Schema applied")
	return nil
}
