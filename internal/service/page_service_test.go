package service

import (
	"context"
	"testing"

	"content-system-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPageService(env *testEnv) PageService {
	return NewPageService(env.projects, env.webpages, env.users, env.reviewers, env.products, env.assets, env.sites)
}

func TestSetOwnerInvalidatesTree(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.rebuild(t)
	svc := newPageService(env)
	juju := env.page(t, "/juju")

	page, err := svc.SetOwner(ctx, juju.ID, UserInput{ID: "hrc-1", Name: "Anna", Email: "anna@canonical.com", JobTitle: "Designer"})
	require.NoError(t, err)
	assert.Equal(t, "Anna", page.Owner.Name)

	repo := env.sites.For(site)
	assert.Nil(t, repo.GetTreeFromCache(ctx))

	node := findNode(repo.GetTreeSync(ctx, false), "/juju")
	require.NotNil(t, node.Owner)
	assert.Equal(t, "anna@canonical.com", node.Owner.Email)
	assert.Equal(t, "Designer", node.Owner.JobTitle)

	// 同一个邮箱不会重复创建用户
	_, err = svc.SetOwner(ctx, env.page(t, "/about").ID, UserInput{Name: "Anna B", Email: "anna@canonical.com"})
	require.NoError(t, err)
	users, err := env.users.FindAll()
	require.NoError(t, err)
	assert.Len(t, users, 2)
}

func TestSetOwnerMissingWebpage(t *testing.T) {
	env := newTestEnv(t)
	_, err := newPageService(env).SetOwner(context.Background(), 42, UserInput{Name: "Anna"})
	assert.ErrorIs(t, err, ErrWebpageNotFound)
}

func TestSetReviewersReplacesExisting(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.rebuild(t)
	svc := newPageService(env)
	juju := env.page(t, "/juju")

	require.NoError(t, svc.SetReviewers(ctx, juju.ID, []UserInput{
		{Name: "Anna", Email: "anna@canonical.com"},
		{Name: "Ben", Email: "ben@canonical.com"},
	}))
	require.NoError(t, svc.SetReviewers(ctx, juju.ID, []UserInput{{Name: "Ben", Email: "ben@canonical.com"}}))

	node := findNode(env.sites.For(site).GetTreeSync(ctx, false), "/juju")
	require.Len(t, node.Reviewers, 1)
	assert.Equal(t, "Ben", node.Reviewers[0].Name)

	assert.ErrorIs(t, svc.SetReviewers(ctx, 999, nil), ErrWebpageNotFound)
}

func TestSetProducts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.rebuild(t)
	svc := newPageService(env)
	require.NoError(t, env.products.Seed([]model.Product{{Slug: "maas", Name: "MAAS"}, {Slug: "juju", Name: "Juju"}}))

	products, err := svc.ListProducts()
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "Juju", products[0].Name)

	juju := env.page(t, "/juju")
	ids := []uint{products[0].ID, products[1].ID, products[0].ID}
	require.NoError(t, svc.SetProducts(ctx, juju.ID, ids))

	node := findNode(env.sites.For(site).GetTreeSync(ctx, false), "/juju")
	require.Len(t, node.Products, 2)
	assert.Equal(t, "juju", node.Products[0].Slug)

	require.NoError(t, svc.SetProducts(ctx, juju.ID, nil))
	node = findNode(env.sites.For(site).GetTreeSync(ctx, false), "/juju")
	assert.Empty(t, node.Products)
}

func TestGetWebpageAssets(t *testing.T) {
	env := newTestEnv(t)
	env.rebuild(t)
	svc := newPageService(env)
	juju := env.page(t, "/juju")
	require.NoError(t, env.assets.Attach(juju.ID, &model.Asset{Type: "image", URL: "https://assets.ubuntu.com/v1/juju.png"}))

	assets, err := svc.GetWebpageAssets(site, "/juju")
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Equal(t, "image", assets[0].Type)

	_, err = svc.GetWebpageAssets("unknown.com", "/juju")
	assert.ErrorIs(t, err, ErrProjectNotFound)
	_, err = svc.GetWebpageAssets(site, "/nope")
	assert.ErrorIs(t, err, ErrWebpageNotFound)
}

func TestCreatePage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.rebuild(t)
	svc := newPageService(env)
	require.NoError(t, env.products.Seed([]model.Product{{Slug: "maas", Name: "MAAS"}}))
	products, err := env.products.FindAll()
	require.NoError(t, err)

	page, err := svc.CreatePage(ctx, CreatePageRequest{
		Project:    site,
		Name:       "/guides/upgrade",
		Parent:     "/guides",
		CopyDoc:    "https://docs.google.com/document/d/upgrade",
		Owner:      UserInput{Name: "Anna", Email: "anna@canonical.com"},
		Reviewers:  []UserInput{{Name: "Ben", Email: "ben@canonical.com"}},
		ProductIDs: []uint{products[0].ID},
	})
	require.NoError(t, err)
	assert.Equal(t, model.WebpageStatusNew, page.Status)
	assert.Equal(t, env.page(t, "/guides").ID, *page.ParentID)

	node := findNode(env.sites.For(site).GetTreeSync(ctx, false), "/guides/upgrade")
	require.NotNil(t, node)
	assert.Equal(t, model.WebpageStatusNew, node.Status)
	assert.Equal(t, "https://docs.google.com/document/d/upgrade", node.CopyDocLink)
	assert.Equal(t, "Anna", node.Owner.Name)
	require.Len(t, node.Reviewers, 1)
	require.Len(t, node.Products, 1)

	_, err = svc.CreatePage(ctx, CreatePageRequest{Project: site, Name: "/guides/upgrade"})
	assert.ErrorIs(t, err, ErrPageExists)
	_, err = svc.CreatePage(ctx, CreatePageRequest{Project: "unknown.com", Name: "/x"})
	assert.ErrorIs(t, err, ErrProjectNotFound)
}

func TestCreatePageWithoutParentUsesRoot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.rebuild(t)
	svc := newPageService(env)

	page, err := svc.CreatePage(ctx, CreatePageRequest{Project: site, Name: "/landscape", Parent: "/missing", Owner: UserInput{Name: "Anna"}})
	require.NoError(t, err)
	assert.Equal(t, env.page(t, "/").ID, *page.ParentID)

	tree := env.sites.For(site).GetTreeSync(ctx, false)
	assert.Equal(t, []string{"/about", "/guides", "/juju", "/landscape"}, childNames(tree))
}

func TestListUsers(t *testing.T) {
	env := newTestEnv(t)
	env.rebuild(t)
	svc := newPageService(env)
	for _, u := range []UserInput{
		{ID: "hrc-1", Name: "Anna Smith", Email: "anna@canonical.com", JobTitle: "Designer"},
		{ID: "hrc-2", Name: "Bob Jones", Email: "bob@canonical.com"},
		{ID: "hrc-3", Name: "Joanna Lee", Email: "joanna@canonical.com"},
	} {
		_, err := env.users.GetOrCreate(u.toModel())
		require.NoError(t, err)
	}

	all, err := svc.ListUsers("")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, UserInput{ID: "hrc-1", Name: "Anna Smith", Email: "anna@canonical.com", JobTitle: "Designer"}, all[0])

	found, err := svc.ListUsers("ANNA")
	require.NoError(t, err)
	names := make([]string, 0, len(found))
	for _, u := range found {
		names = append(names, u.Name)
	}
	assert.Equal(t, []string{"Anna Smith", "Joanna Lee"}, names)

	none, err := svc.ListUsers("nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}
