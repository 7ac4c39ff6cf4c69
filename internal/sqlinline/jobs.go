package sqlinline

const jobColumns = `id::text, requester_id, prompt, status, request, image_result, mesh_result,
       image_url, mesh_url, errors, metadata, coalesce(lease_token, ''), lease_expires_at,
       created_at, updated_at`

const QExpireRequesterLeases = `--sql 3f0f7d64-9a8e-4c8f-b1f4-2e6a51c7d0a9
update generation_jobs
set status = 'failed',
    errors = errors || jsonb_build_array($2::text),
    lease_token = null,
    lease_expires_at = null,
    updated_at = $3::timestamptz
where requester_id = $1::text
  and status = 'pending'
  and lease_expires_at is not null
  and lease_expires_at <= $3::timestamptz;
`

const QInsertJob = `--sql 9b2d4c1e-6f7a-4e0b-8c3d-5a1f2e9b7c64
insert into generation_jobs (
    id, requester_id, prompt, status, request, errors, metadata,
    lease_token, lease_expires_at, created_at, updated_at
)
values (
    $1::uuid, $2::text, $3::text, $4::text, $5::jsonb, $6::jsonb, $7::jsonb,
    nullif($8::text, ''), $9::timestamptz, $10::timestamptz, $10::timestamptz
);
`

const QSelectJob = `--sql 5c8e1a7b-2d4f-4b6a-9e0c-7f3b1d5a8c26
select ` + jobColumns + `
from generation_jobs
where id = $1::uuid;
`

const QUpdatePendingJob = `--sql 7e4a2b9c-1f6d-4c3e-a8b5-0d9f6e2c4a17
update generation_jobs
set status = coalesce($2::text, status),
    image_result = coalesce($3::jsonb, image_result),
    mesh_result = coalesce($4::jsonb, mesh_result),
    image_url = coalesce($5::text, image_url),
    mesh_url = coalesce($6::text, mesh_url),
    errors = errors || coalesce($7::jsonb, '[]'::jsonb),
    metadata = coalesce($8::jsonb, metadata),
    lease_token = case when $9::bool then null else lease_token end,
    lease_expires_at = case when $9::bool then null else lease_expires_at end,
    updated_at = $10::timestamptz
where id = $1::uuid
  and status = 'pending'
returning ` + jobColumns + `;
`

const QRenewJobLease = `--sql f2fef921-3c6d-47bb-b6d1-5fcced6ebc6b
update generation_jobs
set lease_expires_at = $3::timestamptz,
    updated_at = $4::timestamptz
where id = $1::uuid
  and status = 'pending'
  and lease_token = $2::text
returning id::text;
`

const QExpireLeases = `--sql 1a6c3e8f-4b2d-4f9a-b7e1-8c5d2a0f3e94
update generation_jobs
set status = 'failed',
    errors = errors || jsonb_build_array($2::text),
    lease_token = null,
    lease_expires_at = null,
    updated_at = $1::timestamptz
where status = 'pending'
  and lease_expires_at is not null
  and lease_expires_at <= $1::timestamptz
returning id::text;
`
