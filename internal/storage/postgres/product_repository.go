package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

type productRepository struct {
	q dbtx
}

const productColumns = `id, merchant_id, name, description, category, sku, price, stock, sold, status, image_urls, created_at, updated_at`

func (r *productRepository) Create(ctx context.Context, product domain.Product) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	images, err := json.Marshal(nonNilStrings(product.ImageURLs))
	if err != nil {
		return fmt.Errorf("encode image urls: %w", err)
	}

	_, err = r.q.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`,
		product.ID, product.MerchantID, product.Name, product.Description, product.Category, product.SKU,
		product.Price, product.Stock, product.Sold, string(product.Status), images,
		product.CreatedAt, product.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: product %s already exists", domain.ErrVersionConflict, product.ID)
		}
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (r *productRepository) Get(ctx context.Context, id string) (domain.Product, error) {
	return r.selectOne(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
}

// GetForUpdate берёт строку под FOR UPDATE; вне транзакции блокировка снимается сразу.
func (r *productRepository) GetForUpdate(ctx context.Context, id string) (domain.Product, error) {
	return r.selectOne(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id)
}

func (r *productRepository) selectOne(ctx context.Context, query, id string) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	product, err := scanProduct(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, fmt.Errorf("%w: %s", domain.ErrProductNotFound, id)
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	return product, nil
}

func (r *productRepository) GetMany(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	rows, err := r.q.QueryContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id IN (`+strings.Join(placeholders, ",")+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		result[product.ID] = product
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product rows: %w", err)
	}
	return result, nil
}

// Update не трогает sold, merchant_id и created_at. stock перезаписывается целиком,
// поэтому строку нужно заранее прочитать через GetForUpdate в той же транзакции.
func (r *productRepository) Update(ctx context.Context, product domain.Product) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	images, err := json.Marshal(nonNilStrings(product.ImageURLs))
	if err != nil {
		return fmt.Errorf("encode image urls: %w", err)
	}

	res, err := r.q.ExecContext(ctx, `
		UPDATE products
		SET name = $2,
		    description = $3,
		    category = $4,
		    sku = $5,
		    price = $6,
		    stock = $7,
		    status = $8,
		    image_urls = $9,
		    updated_at = $10
		WHERE id = $1
	`,
		product.ID, product.Name, product.Description, product.Category, product.SKU,
		product.Price, product.Stock, string(product.Status), images, product.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	return expectAffected(res, fmt.Errorf("%w: %s", domain.ErrProductNotFound, product.ID))
}

func (r *productRepository) List(ctx context.Context, filter domain.ProductFilter, page domain.Page) ([]domain.Product, int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	where := newWhereBuilder()
	if filter.MerchantID != "" {
		where.add("merchant_id = %s", filter.MerchantID)
	}
	if filter.Status != "" {
		where.add("status = %s", string(filter.Status))
	}
	if filter.Category != "" {
		where.add("LOWER(category) = LOWER(%s)", filter.Category)
	}

	var total int
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`+where.sql(), where.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count products: %w", err)
	}

	page = page.Normalize()
	limitArgs := append(append([]any(nil), where.args...), page.Limit, page.Offset())
	rows, err := r.q.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM products%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		productColumns, where.sql(), len(where.args)+1, len(where.args)+2,
	), limitArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, page.Limit)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate product rows: %w", err)
	}
	return products, total, nil
}

// ReserveStock — условное списание одним UPDATE: stock не уходит ниже нуля даже при гонке.
func (r *productRepository) ReserveStock(ctx context.Context, id string, qty int) error {
	if qty <= 0 {
		return domain.Validationf("reserve quantity must be positive")
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE products
		SET stock = stock - $2,
		    sold = sold + $2,
		    updated_at = NOW()
		WHERE id = $1
		  AND stock >= $2
	`, id, qty)
	if err != nil {
		return fmt.Errorf("reserve stock: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var (
		name  string
		stock int
	)
	err = r.q.QueryRowContext(ctx, `SELECT name, stock FROM products WHERE id = $1`, id).Scan(&name, &stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", domain.ErrProductNotFound, id)
		}
		return fmt.Errorf("check product stock: %w", err)
	}
	return &domain.InsufficientStockError{ProductID: id, ProductName: name, Requested: qty, Available: stock}
}

func (r *productRepository) ReleaseStock(ctx context.Context, id string, qty int) error {
	if qty <= 0 {
		return domain.Validationf("release quantity must be positive")
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE products
		SET stock = stock + $2,
		    sold = sold - $2,
		    updated_at = NOW()
		WHERE id = $1
		  AND sold >= $2
	`, id, qty)
	if err != nil {
		return fmt.Errorf("release stock: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var sold int
	err = r.q.QueryRowContext(ctx, `SELECT sold FROM products WHERE id = $1`, id).Scan(&sold)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", domain.ErrProductNotFound, id)
		}
		return fmt.Errorf("check product sold: %w", err)
	}
	return domain.Validationf("release of %d exceeds sold %d for product %s", qty, sold, id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var (
		p      domain.Product
		status string
		images []byte
	)
	if err := row.Scan(
		&p.ID, &p.MerchantID, &p.Name, &p.Description, &p.Category, &p.SKU,
		&p.Price, &p.Stock, &p.Sold, &status, &images, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return domain.Product{}, err
	}
	p.Status = domain.ProductStatus(status)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	if len(images) > 0 {
		if err := json.Unmarshal(images, &p.ImageURLs); err != nil {
			return domain.Product{}, fmt.Errorf("decode image urls: %w", err)
		}
	}
	return p, nil
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

// whereBuilder собирает WHERE с позиционными параметрами.
type whereBuilder struct {
	clauses []string
	args    []any
}

func newWhereBuilder() *whereBuilder { return &whereBuilder{} }

// add принимает условие с одним %s, куда подставляется номер параметра.
func (w *whereBuilder) add(clause string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, fmt.Sprintf(clause, fmt.Sprintf("$%d", len(w.args))))
}

// addRaw добавляет условие без параметров.
func (w *whereBuilder) addRaw(clause string) {
	w.clauses = append(w.clauses, clause)
}

func (w *whereBuilder) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func expectAffected(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return notFound
	}
	return nil
}

var _ domain.ProductRepository = (*productRepository)(nil)
