package sqlinline

const QCreateSchemaMigrations = `--sql 0c7e3b5a-9d1f-4a8e-b26c-4f8a1d3e7b90
create table if not exists schema_migrations (
    version    text primary key,
    applied_at timestamptz not null default now()
);
`

const QSelectMigrationApplied = `--sql 2e9a4c7d-5b3f-4e1a-8c6d-9f0b2a4e6c13
select exists(select 1 from schema_migrations where version = $1::text);
`

const QInsertMigration = `--sql 4b1d8f2e-7a6c-4d3b-9e5f-1c8a7b2d4e60
insert into schema_migrations (version) values ($1::text);
`
